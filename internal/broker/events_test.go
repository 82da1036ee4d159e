package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pos-ledger/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	keys   []string
	events []interface{}
}

func (w *recordingWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	w.keys = append(w.keys, key)
	w.events = append(w.events, event)
	return nil
}

func TestPublisherKeysByStore(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(w)
	ctx := context.Background()

	require.NoError(t, ep.PublishSaleCreated(ctx, &models.SaleCreatedEvent{BaseEvent: models.BaseEvent{StoreID: "s1"}}))
	require.NoError(t, ep.PublishReturnCreated(ctx, &models.ReturnCreatedEvent{BaseEvent: models.BaseEvent{StoreID: "s1"}}))
	require.NoError(t, ep.PublishSaleSwapped(ctx, &models.SaleSwappedEvent{BaseEvent: models.BaseEvent{StoreID: "s2"}}))

	assert.Equal(t, []string{"store-s1", "store-s1", "store-s2"}, w.keys)
}

func TestHandleMessageRoutesByEventType(t *testing.T) {
	eh := NewEventHandler()

	var gotSale *models.SaleCreatedEvent
	var gotReturn *models.ReturnCreatedEvent
	eh.OnSaleCreated(func(_ context.Context, e *models.SaleCreatedEvent) error {
		gotSale = e
		return nil
	})
	eh.OnReturnCreated(func(_ context.Context, e *models.ReturnCreatedEvent) error {
		gotReturn = e
		return nil
	})

	sale := models.SaleCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-1", EventType: models.EventTypeSaleCreated, StoreID: "s1", Timestamp: time.Now().UTC()},
		Delta:     models.SaleDelta{Revenue: decimal.RequireFromString("41.54"), Transactions: 1},
		SaleID:    "sale-1",
	}
	payload, err := json.Marshal(sale)
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, gotSale)
	assert.Equal(t, "sale-1", gotSale.SaleID)
	assert.Equal(t, "41.54", gotSale.Delta.Revenue.StringFixed(2))
	assert.Nil(t, gotReturn)

	// no handler registered for swaps: ignored
	swapped, err := json.Marshal(models.SaleSwappedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeSaleSwapped}})
	require.NoError(t, err)
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: swapped}))

	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestSaleCreatedWireFormat(t *testing.T) {
	event := models.SaleCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-1", EventType: models.EventTypeSaleCreated, StoreID: "s1"},
		Delta:     models.SaleDelta{Revenue: decimal.RequireFromString("10.80"), Transactions: 1, Discount: decimal.Zero, Tax: decimal.RequireFromString("0.80")},
		SaleID:    "sale-1",
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &wire))
	assert.Equal(t, "sale:created", wire["event"])
	assert.Equal(t, "s1", wire["storeId"])
	assert.Equal(t, "sale-1", wire["saleId"])
	assert.Contains(t, wire, "occurredAt")
	delta := wire["delta"].(map[string]interface{})
	assert.Equal(t, "10.8", delta["revenue"])
	assert.Equal(t, float64(1), delta["transactions"])
}
