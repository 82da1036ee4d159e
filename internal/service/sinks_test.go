package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideEffectsBreakerStopsCallingFailingSink(t *testing.T) {
	rollups := &fakeRollups{err: errors.New("redis unavailable")}
	notifier := &fakeNotifier{}
	effects := NewSideEffects(rollups, notifier,
		config.BusinessConfig{RollupTTL: time.Hour, SinkTimeout: time.Second},
		config.ResilienceConfig{BreakerFailureThreshold: 2, BreakerOpenTimeout: time.Minute})

	sale := &models.Sale{ID: "s-1", StoreID: testStore, Total: dec("21.00"), Tax: dec("1.00"), OccurredAt: time.Now().UTC()}
	for i := 0; i < 4; i++ {
		effects.SaleCreated(context.Background(), sale)
	}

	assert.Equal(t, 2, rollups.calls)
	assert.Len(t, notifier.sales, 4)
}

func TestSideEffectsIgnoreRequestCancellation(t *testing.T) {
	rollups := &fakeRollups{}
	effects := NewSideEffects(rollups, nil,
		config.BusinessConfig{RollupTTL: time.Hour, SinkTimeout: time.Second},
		config.ResilienceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	effects.ReturnCreated(ctx, &models.Return{ID: "r-1", StoreID: testStore, TotalRefund: dec("10.00"), TotalTaxRefund: dec("0.50")}, models.SaleStatusCompleted)

	require.Len(t, rollups.deltas, 1)
	assertMoney(t, "10.50", rollups.deltas[0].Refunds)
}

func TestNilSideEffectsIsNoop(t *testing.T) {
	var effects *SideEffects
	assert.NotPanics(t, func() {
		effects.SaleSwapped(context.Background(), &models.Swap{ID: "sw-1"})
	})
}
