package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerEventType = "event-type"
	headerEventID   = "event-id"

	// a message that still fails after this many attempts is committed and skipped
	maxHandleAttempts = 3
)

// enveloped is satisfied by every ledger event through its embedded BaseEvent
type enveloped interface {
	Envelope() models.BaseEvent
}

// Producer writes ledger events to one topic, keyed by store so a store's events stay ordered
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}}
}

// PublishEvent writes one event; ledger events also carry their type and id as headers
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if ev, ok := event.(enveloped); ok {
		msg.Headers = eventHeaders(ev.Envelope())
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write ledger event: %w", err)
	}

	util.GetLogger().Debug("Published ledger event",
		zap.String("key", key),
		zap.String("topic", p.writer.Topic),
		zap.String("event", headerValue(msg.Headers, headerEventType)))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func eventHeaders(base models.BaseEvent) []kafka.Header {
	return []kafka.Header{
		{Key: headerEventType, Value: []byte(base.EventType)},
		{Key: headerEventID, Value: []byte(base.EventID)},
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Consumer reads the ledger topic as part of a consumer group
type Consumer struct {
	reader *kafka.Reader
	// backoff between attempts at one message
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{reader: reader, backoff: 500 * time.Millisecond}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one ledger message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming blocks until ctx is done. Offsets are committed once a message is handled
// or has exhausted its attempts.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	logger := util.GetLogger().With(zap.String("topic", c.reader.Config().Topic))
	logger.Info("Starting ledger consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Ledger consumer stopping")
				return ctx.Err()
			}
			logger.Error("Error fetching message", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Skipping ledger event",
				zap.String("event_id", headerValue(msg.Headers, headerEventID)),
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("Error committing message", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= maxHandleAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		if attempt < maxHandleAttempts && !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxHandleAttempts, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
