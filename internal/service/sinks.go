package service

import (
	"context"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink names used in logs, metrics and breaker names
const (
	SinkRollup = "rollup"
	SinkEvents = "events"
)

// RollupSink accumulates per store daily totals. Calls are at-least-once.
type RollupSink interface {
	IncrementRollup(ctx context.Context, delta models.RollupDelta, ttl time.Duration) error
}

// EventNotifier publishes committed ledger events for realtime consumers
type EventNotifier interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishReturnCreated(ctx context.Context, event *models.ReturnCreatedEvent) error
	PublishSaleSwapped(ctx context.Context, event *models.SaleSwappedEvent) error
}

// SideEffects runs the post-commit calls of the ledgers. Failures are logged and
// counted, never returned: by the time it runs the ledger write has committed.
type SideEffects struct {
	rollups       RollupSink
	notifier      EventNotifier
	rollupBreaker *gobreaker.CircuitBreaker
	eventBreaker  *gobreaker.CircuitBreaker
	rollupTTL     time.Duration
	timeout       time.Duration
	logger        *zap.Logger
}

// NewSideEffects wires the sinks behind circuit breakers. Either sink may be nil.
func NewSideEffects(rollups RollupSink, notifier EventNotifier, business config.BusinessConfig, resilience config.ResilienceConfig) *SideEffects {
	return &SideEffects{
		rollups:       rollups,
		notifier:      notifier,
		rollupBreaker: newBreaker(SinkRollup, resilience),
		eventBreaker:  newBreaker(SinkEvents, resilience),
		rollupTTL:     business.RollupTTL,
		timeout:       business.SinkTimeout,
		logger:        util.GetLogger(),
	}
}

func newBreaker(name string, cfg config.ResilienceConfig) *gobreaker.CircuitBreaker {
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	logger := util.GetLogger()

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Side effect breaker state changed",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// SaleCreated adds the sale to today's rollup and publishes sale:created
func (e *SideEffects) SaleCreated(ctx context.Context, sale *models.Sale) {
	discount := sale.Discount.Add(sale.LoyaltyDiscount)

	rollup := models.RollupDelta{
		StoreID:      sale.StoreID,
		Day:          sale.OccurredAt,
		Revenue:      sale.Total,
		Transactions: 1,
		Discount:     discount,
		Tax:          sale.Tax,
	}
	event := &models.SaleCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSaleCreated, sale.StoreID),
		Delta: models.SaleDelta{
			Revenue:      sale.Total,
			Transactions: 1,
			Discount:     discount,
			Tax:          sale.Tax,
		},
		SaleID:     sale.ID,
		OccurredAt: sale.OccurredAt,
	}

	e.dispatch(ctx, models.EventTypeSaleCreated, rollup, func(ctx context.Context) error {
		return e.notifier.PublishSaleCreated(ctx, event)
	})
}

// ReturnCreated adds the refund to today's rollup and publishes return:created
func (e *SideEffects) ReturnCreated(ctx context.Context, ret *models.Return, saleStatus string) {
	rollup := models.RollupDelta{
		StoreID: ret.StoreID,
		Day:     ret.CreatedAt,
		Refunds: ret.TotalRefund.Add(ret.TotalTaxRefund),
		Returns: 1,
	}
	event := &models.ReturnCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeReturnCreated, ret.StoreID),
		SaleID:      ret.SaleID,
		ReturnID:    ret.ID,
		RefundType:  ret.RefundType,
		TotalRefund: ret.TotalRefund,
		TaxRefund:   ret.TotalTaxRefund,
		SaleStatus:  saleStatus,
	}

	e.dispatch(ctx, models.EventTypeReturnCreated, rollup, func(ctx context.Context) error {
		return e.notifier.PublishReturnCreated(ctx, event)
	})
}

// SaleSwapped moves today's revenue and tax by the swap difference and publishes sale:swapped
func (e *SideEffects) SaleSwapped(ctx context.Context, swap *models.Swap) {
	rollup := models.RollupDelta{
		StoreID: swap.StoreID,
		Day:     swap.CreatedAt,
		Revenue: swap.TotalDifference,
		Tax:     swap.TaxDifference,
	}
	event := &models.SaleSwappedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeSaleSwapped, swap.StoreID),
		SaleID:          swap.SaleID,
		SwapID:          swap.ID,
		PriceDifference: swap.PriceDifference,
		TaxDifference:   swap.TaxDifference,
		TotalDifference: swap.TotalDifference,
	}

	e.dispatch(ctx, models.EventTypeSaleSwapped, rollup, func(ctx context.Context) error {
		return e.notifier.PublishSaleSwapped(ctx, event)
	})
}

func newBaseEvent(eventType, storeID string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		StoreID:   storeID,
		Timestamp: time.Now().UTC(),
	}
}

// dispatch runs both sinks concurrently and waits for them, bounded by the sink timeout.
// The request context's cancellation is dropped: a client hanging up after commit
// must not lose the rollup.
func (e *SideEffects) dispatch(ctx context.Context, event string, rollup models.RollupDelta, publish func(context.Context) error) {
	if e == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var g errgroup.Group
	if e.rollups != nil {
		g.Go(func() error {
			e.run(ctx, SinkRollup, event, e.rollupBreaker, func(ctx context.Context) error {
				return e.rollups.IncrementRollup(ctx, rollup, e.rollupTTL)
			})
			return nil
		})
	}
	if e.notifier != nil {
		g.Go(func() error {
			e.run(ctx, SinkEvents, event, e.eventBreaker, publish)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *SideEffects) run(ctx context.Context, sink, event string, cb *gobreaker.CircuitBreaker, fn func(context.Context) error) {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		util.SideEffectFailuresTotal.WithLabelValues(sink).Inc()
		e.logger.Warn("Post-commit side effect failed",
			zap.String("sink", sink),
			zap.String("event", event),
			zap.Error(err))
	}
}
