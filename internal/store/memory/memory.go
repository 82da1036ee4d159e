package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"

	"github.com/shopspring/decimal"
)

// Store keeps the ledger in process memory. WithTx runs against a private copy of
// the state and swaps it in on success, so a failed unit of work leaves nothing behind.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	stores       map[string]models.Store
	products     map[string]models.Product
	sales        map[string]models.Sale
	saleByKey    map[string]string
	inventory    map[string]models.InventoryRecord
	adjustments  []models.InventoryAdjustment
	losses       []models.StockLoss
	returns      map[string]models.Return
	returnByKey  map[string]string
	swaps        map[string]models.Swap
	swapByKey    map[string]string
	settings     map[string]models.LoyaltySettings
	accounts     map[string]models.LoyaltyAccount
	accountByKey map[string]string
	loyaltyLog   []models.LoyaltyTransaction
	mirrors      map[string]models.MirrorTransaction
	saleMirror   map[string]string
}

func newState() *state {
	return &state{
		stores:       map[string]models.Store{},
		products:     map[string]models.Product{},
		sales:        map[string]models.Sale{},
		saleByKey:    map[string]string{},
		inventory:    map[string]models.InventoryRecord{},
		returns:      map[string]models.Return{},
		returnByKey:  map[string]string{},
		swaps:        map[string]models.Swap{},
		swapByKey:    map[string]string{},
		settings:     map[string]models.LoyaltySettings{},
		accounts:     map[string]models.LoyaltyAccount{},
		accountByKey: map[string]string{},
		mirrors:      map[string]models.MirrorTransaction{},
		saleMirror:   map[string]string{},
	}
}

// clone copies every map and log. Values holding slices are never mutated in
// place (writers replace the slice), so a shallow copy of each value is enough.
func (s *state) clone() *state {
	c := &state{
		stores:       copyMap(s.stores),
		products:     copyMap(s.products),
		sales:        copyMap(s.sales),
		saleByKey:    copyMap(s.saleByKey),
		inventory:    copyMap(s.inventory),
		adjustments:  append([]models.InventoryAdjustment(nil), s.adjustments...),
		losses:       append([]models.StockLoss(nil), s.losses...),
		returns:      copyMap(s.returns),
		returnByKey:  copyMap(s.returnByKey),
		swaps:        copyMap(s.swaps),
		swapByKey:    copyMap(s.swapByKey),
		settings:     copyMap(s.settings),
		accounts:     copyMap(s.accounts),
		accountByKey: copyMap(s.accountByKey),
		loyaltyLog:   append([]models.LoyaltyTransaction(nil), s.loyaltyLog...),
		mirrors:      copyMap(s.mirrors),
		saleMirror:   copyMap(s.saleMirror),
	}
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// NewSeeded returns a store with a demo tenant for local runs
func NewSeeded() *Store {
	s := NewStore()
	now := time.Now().UTC()
	s.SeedStore(models.Store{ID: "store-001", OrgID: "org-001", Currency: "USD"})
	s.SeedLoyaltySettings(models.LoyaltySettings{
		ScopeType:   models.LoyaltyScopeOrg,
		ScopeID:     "org-001",
		EarnRate:    decimal.NewFromInt(1),
		RedeemValue: decimal.RequireFromString("0.01"),
	})
	for _, p := range []models.Product{
		{ID: "SKU-COFFEE-250", Name: "Ground Coffee 250g", Price: decimal.RequireFromString("8.50"), CostPrice: decimal.RequireFromString("4.10")},
		{ID: "SKU-MUG-CLASSIC", Name: "Classic Mug", Price: decimal.RequireFromString("12.00"), CostPrice: decimal.RequireFromString("5.00")},
		{ID: "SKU-MUG-LARGE", Name: "Large Mug", Price: decimal.RequireFromString("15.00"), CostPrice: decimal.RequireFromString("6.25")},
		{ID: "SKU-FILTER-100", Name: "Paper Filters x100", Price: decimal.RequireFromString("3.25"), CostPrice: decimal.RequireFromString("1.20")},
	} {
		p.Active = true
		p.CreatedAt = now
		s.SeedProduct(p)
		s.SeedInventory(models.InventoryRecord{StoreID: "store-001", ProductID: p.ID, Quantity: 50, AverageCost: p.CostPrice, UpdatedAt: now})
	}
	return s
}

// SeedStore registers a store
func (s *Store) SeedStore(st models.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stores[st.ID] = st
}

// SeedProduct registers a catalog product
func (s *Store) SeedProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

// SeedInventory sets a stock record
func (s *Store) SeedInventory(rec models.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.inventory[inventoryKey(rec.StoreID, rec.ProductID)] = rec
}

// SeedLoyaltySettings sets a store or organization rate override
func (s *Store) SeedLoyaltySettings(settings models.LoyaltySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.settings[compositeKey(settings.ScopeType, settings.ScopeID)] = settings
}

// SeedLoyaltyAccount sets a loyalty account
func (s *Store) SeedLoyaltyAccount(account models.LoyaltyAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.accounts[account.ID] = account
	s.state.accountByKey[compositeKey(account.ScopeID, account.Phone)] = account.ID
}

// Adjustments returns the inventory adjustment log
func (s *Store) Adjustments() []models.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InventoryAdjustment(nil), s.state.adjustments...)
}

// Losses returns the stock loss log
func (s *Store) Losses() []models.StockLoss {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StockLoss(nil), s.state.losses...)
}

// LoyaltyTransactions returns the loyalty audit log
func (s *Store) LoyaltyTransactions() []models.LoyaltyTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LoyaltyTransaction(nil), s.state.loyaltyLog...)
}

// Returns returns every return of a sale, swap audit returns included
func (s *Store) Returns(saleID string) []models.Return {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Return
	for _, ret := range s.state.returns {
		if ret.SaleID == saleID {
			ret.Items = append([]models.ReturnItem(nil), ret.Items...)
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mirrors returns every mirror transaction of a sale, oldest first
func (s *Store) Mirrors(saleID string) []models.MirrorTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MirrorTransaction
	for _, m := range s.state.mirrors {
		if m.SaleID == saleID {
			m.Lines = append([]models.MirrorLine(nil), m.Lines...)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// WithTx runs fn against a private copy of the state and commits it when fn succeeds
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := &view{st: s.state.clone()}
	if err := fn(work); err != nil {
		return err
	}
	s.state = work.st
	return nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) read() *view {
	return &view{st: s.state}
}

// GetSaleByID retrieves a sale with its items
func (s *Store) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSaleByID(ctx, id)
}

// GetSaleByIdempotencyKey retrieves a sale by its store-scoped idempotency key
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSaleByIdempotencyKey(ctx, storeID, key)
}

// GetReturnByIdempotencyKey retrieves a return by its store-scoped idempotency key
func (s *Store) GetReturnByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetReturnByIdempotencyKey(ctx, storeID, key)
}

// GetSwapByIdempotencyKey retrieves a swap by its store-scoped idempotency key
func (s *Store) GetSwapByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSwapByIdempotencyKey(ctx, storeID, key)
}

// GetInventory retrieves a stock record
func (s *Store) GetInventory(ctx context.Context, storeID, productID string) (*models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetInventory(ctx, storeID, productID)
}

// GetLoyaltyAccount retrieves a loyalty account
func (s *Store) GetLoyaltyAccount(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetLoyaltyAccount(ctx, scopeID, phone)
}

// GetStore retrieves a store
func (s *Store) GetStore(ctx context.Context, storeID string) (*models.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetStore(ctx, storeID)
}

func compositeKey(a, b string) string {
	return fmt.Sprintf("%s\x00%s", a, b)
}

func inventoryKey(storeID, productID string) string {
	return compositeKey(storeID, productID)
}
