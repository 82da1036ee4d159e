package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/models"
	"pos-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStore   = "store-1"
	otherStore  = "store-2"
	testPhone   = "+15550100"
	widgetID    = "widget"
	gadgetID    = "gadget"
	cableID     = "cable"
	retiredID   = "retired"
	startingQty = 20
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fakeRollups struct {
	mu     sync.Mutex
	calls  int
	deltas []models.RollupDelta
	err    error
}

func (f *fakeRollups) IncrementRollup(_ context.Context, delta models.RollupDelta, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.deltas = append(f.deltas, delta)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sales   []*models.SaleCreatedEvent
	returns []*models.ReturnCreatedEvent
	swaps   []*models.SaleSwappedEvent
	err     error
}

func (f *fakeNotifier) PublishSaleCreated(_ context.Context, event *models.SaleCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sales = append(f.sales, event)
	return nil
}

func (f *fakeNotifier) PublishReturnCreated(_ context.Context, event *models.ReturnCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.returns = append(f.returns, event)
	return nil
}

func (f *fakeNotifier) PublishSaleSwapped(_ context.Context, event *models.SaleSwappedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.swaps = append(f.swaps, event)
	return nil
}

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	rollups   *fakeRollups
	notifier  *fakeNotifier
	inventory *InventoryLedger
	loyalty   *LoyaltyLedger
	sales     *SaleLedger
	returns   *ReturnEngine
	swaps     *SwapEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.NewStore()
	now := time.Now().UTC()
	st.SeedStore(models.Store{ID: testStore, Currency: "USD"})
	st.SeedStore(models.Store{ID: otherStore, Currency: "USD"})
	for _, p := range []models.Product{
		{ID: widgetID, Name: "Widget", Price: dec("10.00"), CostPrice: dec("4.00"), Active: true},
		{ID: gadgetID, Name: "Gadget", Price: dec("15.00"), CostPrice: dec("6.00"), Active: true},
		{ID: cableID, Name: "Cable", Price: dec("5.00"), CostPrice: dec("1.50"), Active: true},
		{ID: retiredID, Name: "Retired", Price: dec("9.00"), CostPrice: dec("3.00"), Active: false},
	} {
		p.CreatedAt = now
		st.SeedProduct(p)
		st.SeedInventory(models.InventoryRecord{StoreID: testStore, ProductID: p.ID, Quantity: startingQty, AverageCost: p.CostPrice, UpdatedAt: now})
	}

	rollups := &fakeRollups{}
	notifier := &fakeNotifier{}
	effects := NewSideEffects(rollups, notifier,
		config.BusinessConfig{RollupTTL: time.Hour, SinkTimeout: time.Second},
		config.ResilienceConfig{BreakerFailureThreshold: 100, BreakerOpenTimeout: time.Minute})

	inventory := NewInventoryLedger(st)
	loyalty := NewLoyaltyLedger(st, config.LoyaltyConfig{EarnRate: dec("1"), RedeemValue: dec("0.01")})

	return &fixture{
		ctx:       context.Background(),
		store:     st,
		rollups:   rollups,
		notifier:  notifier,
		inventory: inventory,
		loyalty:   loyalty,
		sales:     NewSaleLedger(st, inventory, loyalty, NewPaymentService(), effects, "USD"),
		returns:   NewReturnEngine(st, inventory, effects),
		swaps:     NewSwapEngine(st, inventory, effects),
	}
}

// twoWidgetSale is 2 × 10.00 with 1.00 tax (5%), total 21.00, paid in cash
func twoWidgetSale() *CreateSaleRequest {
	return &CreateSaleRequest{
		StoreID:   testStore,
		CashierID: "cashier-1",
		Items: []SaleItemRequest{
			{ProductID: widgetID, Quantity: 2, UnitPrice: dec("10.00"), LineTotal: dec("20.00")},
		},
		Subtotal: dec("20.00"),
		Tax:      dec("1.00"),
		Total:    decPtr("21.00"),
		Payment:  models.Payment{Method: models.PaymentMethodCash},
	}
}

func (f *fixture) recordSale(t *testing.T, req *CreateSaleRequest, key string) *models.Sale {
	t.Helper()
	result, err := f.sales.CreateSale(f.ctx, req, key)
	require.NoError(t, err)
	require.False(t, result.Replayed)
	return result.Sale
}

func (f *fixture) quantity(t *testing.T, productID string) int {
	t.Helper()
	rec, err := f.store.GetInventory(f.ctx, testStore, productID)
	require.NoError(t, err)
	return rec.Quantity
}

func (f *fixture) saleMirror(t *testing.T, saleID string) models.MirrorTransaction {
	t.Helper()
	for _, m := range f.store.Mirrors(saleID) {
		if m.Kind == models.MirrorKindSale {
			return m
		}
	}
	t.Fatalf("sale %s has no mirror", saleID)
	return models.MirrorTransaction{}
}

func (f *fixture) mirrorsOfKind(saleID, kind string) []models.MirrorTransaction {
	var out []models.MirrorTransaction
	for _, m := range f.store.Mirrors(saleID) {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fixture) auditReturn(t *testing.T, swap *models.Swap) models.Return {
	t.Helper()
	for _, ret := range f.store.Returns(swap.SaleID) {
		if ret.SwapID == swap.ID {
			return ret
		}
	}
	t.Fatalf("swap %s has no audit return", swap.ID)
	return models.Return{}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(models.MoneyScale), msgAndArgs...)
}
