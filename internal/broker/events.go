package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the write side of a topic
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCreated publishes sale:created
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishReturnCreated publishes return:created
func (ep *EventPublisher) PublishReturnCreated(ctx context.Context, event *models.ReturnCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

// PublishSaleSwapped publishes sale:swapped
func (ep *EventPublisher) PublishSaleSwapped(ctx context.Context, event *models.SaleSwappedEvent) error {
	return ep.producer.PublishEvent(ctx, storeKey(event.StoreID), event)
}

func storeKey(storeID string) string {
	return fmt.Sprintf("store-%s", storeID)
}

// EventHandler handles incoming events
type EventHandler struct {
	onSaleCreated   func(context.Context, *models.SaleCreatedEvent) error
	onReturnCreated func(context.Context, *models.ReturnCreatedEvent) error
	onSaleSwapped   func(context.Context, *models.SaleSwappedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSaleCreated registers a handler for sale:created events
func (eh *EventHandler) OnSaleCreated(handler func(context.Context, *models.SaleCreatedEvent) error) {
	eh.onSaleCreated = handler
}

// OnReturnCreated registers a handler for return:created events
func (eh *EventHandler) OnReturnCreated(handler func(context.Context, *models.ReturnCreatedEvent) error) {
	eh.onReturnCreated = handler
}

// OnSaleSwapped registers a handler for sale:swapped events
func (eh *EventHandler) OnSaleSwapped(handler func(context.Context, *models.SaleSwappedEvent) error) {
	eh.onSaleSwapped = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSaleCreated:
		if eh.onSaleCreated != nil {
			var event models.SaleCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal sale:created event: %w", err)
			}
			return eh.onSaleCreated(ctx, &event)
		}

	case models.EventTypeReturnCreated:
		if eh.onReturnCreated != nil {
			var event models.ReturnCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal return:created event: %w", err)
			}
			return eh.onReturnCreated(ctx, &event)
		}

	case models.EventTypeSaleSwapped:
		if eh.onSaleSwapped != nil {
			var event models.SaleSwappedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal sale:swapped event: %w", err)
			}
			return eh.onSaleSwapped(ctx, &event)
		}

	default:
		logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
