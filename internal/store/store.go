package store

import (
	"context"
	"errors"

	"pos-ledger/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an insert hits an idempotency key already taken
	ErrDuplicateKey = errors.New("duplicate key")
)

// Reader holds the lookups that are safe outside a unit of work
type Reader interface {
	GetSaleByID(ctx context.Context, id string) (*models.Sale, error)
	GetSaleByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Sale, error)
	GetReturnByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Return, error)
	GetSwapByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Swap, error)
	GetInventory(ctx context.Context, storeID, productID string) (*models.InventoryRecord, error)
	GetLoyaltyAccount(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error)
	GetStore(ctx context.Context, storeID string) (*models.Store, error)
}

// Tx is one unit of work. Every write of a ledger operation goes through the same Tx
// and either all of them commit or none do.
type Tx interface {
	Reader

	GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)

	GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error)
	InsertSale(ctx context.Context, sale *models.Sale) error
	UpdateSaleStatus(ctx context.Context, id, status string) error
	UpdateSaleTotals(ctx context.Context, id string, subtotal, tax, total decimal.Decimal) error

	// GetInventoryForUpdate locks the record, creating it with zero quantity and
	// initialCost as average cost when the product was never stocked in the store.
	GetInventoryForUpdate(ctx context.Context, storeID, productID string, initialCost decimal.Decimal) (*models.InventoryRecord, error)
	SaveInventory(ctx context.Context, rec *models.InventoryRecord) error
	InsertInventoryAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error
	InsertStockLoss(ctx context.Context, loss *models.StockLoss) error

	GetLoyaltySettings(ctx context.Context, scopeType, scopeID string) (*models.LoyaltySettings, error)
	GetLoyaltyAccountForUpdate(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error)
	// EnsureLoyaltyAccount inserts the account unless one already exists for its scope and phone
	EnsureLoyaltyAccount(ctx context.Context, account *models.LoyaltyAccount) error
	UpdateLoyaltyAccount(ctx context.Context, account *models.LoyaltyAccount) error
	InsertLoyaltyTransaction(ctx context.Context, entry *models.LoyaltyTransaction) error

	InsertMirror(ctx context.Context, mirror *models.MirrorTransaction) error
	GetSaleMirrorForUpdate(ctx context.Context, saleID string) (*models.MirrorTransaction, error)
	UpdateMirrorTotals(ctx context.Context, mirror *models.MirrorTransaction) error
	InsertMirrorLine(ctx context.Context, line *models.MirrorLine) error
	UpdateMirrorLine(ctx context.Context, line *models.MirrorLine) error

	// ConsumedQuantities sums per sale item what the sale's returns and swaps took back,
	// keeping the two apart
	ConsumedQuantities(ctx context.Context, saleID string) (models.ConsumedQuantities, error)
	// InsertReturn enforces key uniqueness only for client returns; a swap's audit
	// return carries SwapID and no key
	InsertReturn(ctx context.Context, ret *models.Return) error
	InsertSwap(ctx context.Context, swap *models.Swap) error
}

// Store is a ledger backend
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
