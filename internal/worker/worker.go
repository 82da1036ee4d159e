package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-ledger/internal/broker"
	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"go.uber.org/zap"
)

// dedupTTL bounds how long an event id is remembered; redeliveries come within minutes
const dedupTTL = 24 * time.Hour

// Dashboard is the Redis side of the fan-out
type Dashboard interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	PublishDashboard(ctx context.Context, storeID string, payload []byte) error
}

// DashboardWorker forwards committed ledger events to the stores' live dashboards
type DashboardWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dashboard    Dashboard
}

// NewDashboardWorker creates a new dashboard worker
func NewDashboardWorker(consumer *broker.Consumer, dashboard Dashboard) *DashboardWorker {
	w := &DashboardWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		dashboard:    dashboard,
	}

	w.eventHandler.OnSaleCreated(func(ctx context.Context, e *models.SaleCreatedEvent) error {
		return w.forward(ctx, e.BaseEvent, e)
	})
	w.eventHandler.OnReturnCreated(func(ctx context.Context, e *models.ReturnCreatedEvent) error {
		return w.forward(ctx, e.BaseEvent, e)
	})
	w.eventHandler.OnSaleSwapped(func(ctx context.Context, e *models.SaleSwappedEvent) error {
		return w.forward(ctx, e.BaseEvent, e)
	})

	return w
}

// Start starts the worker
func (w *DashboardWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting dashboard worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DashboardWorker) Stop() error {
	util.GetLogger().Info("Stopping dashboard worker")
	return w.consumer.Close()
}

func (w *DashboardWorker) forward(ctx context.Context, base models.BaseEvent, event interface{}) error {
	logger := util.GetLogger().With(
		zap.String("event_id", base.EventID),
		zap.String("event", base.EventType),
		zap.String("store_id", base.StoreID))

	fresh, err := w.dashboard.MarkEventSeen(ctx, base.EventID, dedupTTL)
	if err != nil {
		util.DashboardEventsTotal.WithLabelValues(base.EventType, "error").Inc()
		return fmt.Errorf("failed to record event id: %w", err)
	}
	if !fresh {
		logger.Debug("Duplicate event skipped")
		util.DashboardEventsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard payload: %w", err)
	}

	if err := w.dashboard.PublishDashboard(ctx, base.StoreID, payload); err != nil {
		util.DashboardEventsTotal.WithLabelValues(base.EventType, "error").Inc()
		return fmt.Errorf("failed to publish to dashboard: %w", err)
	}

	util.DashboardEventsTotal.WithLabelValues(base.EventType, "published").Inc()
	logger.Debug("Event forwarded to dashboard")
	return nil
}
