package broker

import (
	"context"
	"errors"
	"testing"

	"pos-ledger/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHeaders(t *testing.T) {
	event := &models.ReturnCreatedEvent{BaseEvent: models.BaseEvent{EventID: "e-9", EventType: models.EventTypeReturnCreated}}

	headers := eventHeaders(event.Envelope())
	assert.Equal(t, "return:created", headerValue(headers, headerEventType))
	assert.Equal(t, "e-9", headerValue(headers, headerEventID))
	assert.Empty(t, headerValue(headers, "missing"))
}

func TestConsumerRetriesHandler(t *testing.T) {
	c := &Consumer{}
	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("redis timeout")
		}
		return nil
	}, kafka.Message{})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	c := &Consumer{}
	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		return errors.New("bad payload")
	}, kafka.Message{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, maxHandleAttempts, calls)
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	c := &Consumer{backoff: 1 << 40}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.handle(ctx, func(context.Context, kafka.Message) error {
		return errors.New("redis timeout")
	}, kafka.Message{})
	assert.ErrorIs(t, err, context.Canceled)
}
