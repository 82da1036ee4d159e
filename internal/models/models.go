package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store is a tenant's selling location
type Store struct {
	ID       string `db:"id" json:"id"`
	OrgID    string `db:"org_id" json:"org_id,omitempty"`
	Currency string `db:"currency" json:"currency"`
}

// LoyaltyScope returns the id loyalty accounts of this store are keyed by.
// Stores that belong to an organization share balances across the organization.
func (s Store) LoyaltyScope() string {
	if s.OrgID != "" {
		return s.OrgID
	}
	return s.ID
}

// Product represents a product in the catalog
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CostPrice decimal.Decimal `db:"cost_price" json:"cost_price"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Sale is the sale-of-record. Only Status and the aggregate totals (on swap) change after insert.
type Sale struct {
	ID              string          `db:"id" json:"id"`
	StoreID         string          `db:"store_id" json:"store_id"`
	CashierID       string          `db:"cashier_id" json:"cashier_id"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone,omitempty"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
	LoyaltyDiscount decimal.Decimal `db:"loyalty_discount" json:"loyalty_discount"`
	RedeemedPoints  int64           `db:"redeemed_points" json:"redeemed_points"`
	EarnedPoints    int64           `db:"earned_points" json:"earned_points"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Currency        string          `db:"currency" json:"currency"`
	Payment         Payment         `db:"-" json:"payment"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key"`
	Status          string          `db:"status" json:"status"`
	OccurredAt      time.Time       `db:"occurred_at" json:"occurred_at"`
	Items           []SaleItem      `db:"-" json:"items"`
}

// TaxRate is the effective tax rate of the sale, zero when the subtotal is zero
func (s *Sale) TaxRate() decimal.Decimal {
	if s.Subtotal.IsZero() {
		return decimal.Zero
	}
	return s.Tax.DivRound(s.Subtotal, RateScale)
}

// Item returns the sale line with the given id
func (s *Sale) Item(id string) (SaleItem, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return SaleItem{}, false
}

// SaleItem is one line of a sale
type SaleItem struct {
	ID           string          `db:"id" json:"id"`
	SaleID       string          `db:"sale_id" json:"sale_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineDiscount decimal.Decimal `db:"line_discount" json:"line_discount"`
	LineTotal    decimal.Decimal `db:"line_total" json:"line_total"`
}

// InventoryRecord is the stock position of one product in one store
type InventoryRecord struct {
	StoreID     string          `db:"store_id" json:"store_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	AverageCost decimal.Decimal `db:"average_cost" json:"average_cost"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// InventoryAdjustment records a quantity change that was not a plain sale debit
type InventoryAdjustment struct {
	ID          string    `db:"id" json:"id"`
	StoreID     string    `db:"store_id" json:"store_id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	Delta       int       `db:"delta" json:"delta"`
	Reason      string    `db:"reason" json:"reason"`
	ReferenceID string    `db:"reference_id" json:"reference_id"`
	Note        string    `db:"note" json:"note"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// StockLoss records discarded units for loss reporting
type StockLoss struct {
	ID          string          `db:"id" json:"id"`
	StoreID     string          `db:"store_id" json:"store_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitCost    decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	ReferenceID string          `db:"reference_id" json:"reference_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Return reverses all or part of a sale
type Return struct {
	ID             string          `db:"id" json:"id"`
	SaleID         string          `db:"sale_id" json:"sale_id"`
	StoreID        string          `db:"store_id" json:"store_id"`
	Reason         string          `db:"reason" json:"reason"`
	ProcessedBy    string          `db:"processed_by" json:"processed_by"`
	RefundType     string          `db:"refund_type" json:"refund_type"`
	TotalRefund    decimal.Decimal `db:"total_refund" json:"total_refund"`
	TotalTaxRefund decimal.Decimal `db:"total_tax_refund" json:"total_tax_refund"`
	Currency       string          `db:"currency" json:"currency"`
	// IdempotencyKey is empty on the audit return of a swap, which is found through SwapID
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	SwapID         string          `db:"swap_id" json:"swap_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Items          []ReturnItem    `db:"-" json:"items"`
}

// ConsumedQuantities is how many units of each sale item returns and swaps took back
type ConsumedQuantities struct {
	Returned map[string]int
	Swapped  map[string]int
}

func NewConsumedQuantities() ConsumedQuantities {
	return ConsumedQuantities{Returned: map[string]int{}, Swapped: map[string]int{}}
}

// Remaining is the quantity of item still available to return or swap
func (c ConsumedQuantities) Remaining(item SaleItem) int {
	return item.Quantity - c.Returned[item.ID] - c.Swapped[item.ID]
}

// FullyReturned reports whether every unit of every item came back through a return.
// Swapped units were exchanged, not reversed, so they keep the sale open.
func (c ConsumedQuantities) FullyReturned(items []SaleItem) bool {
	for _, item := range items {
		if c.Returned[item.ID] < item.Quantity {
			return false
		}
	}
	return true
}

// ReturnItem is one returned sale line
type ReturnItem struct {
	ID              string          `db:"id" json:"id"`
	ReturnID        string          `db:"return_id" json:"return_id"`
	SaleItemID      string          `db:"sale_item_id" json:"sale_item_id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	Quantity        int             `db:"quantity" json:"quantity"`
	RestockAction   string          `db:"restock_action" json:"restock_action"`
	RefundType      string          `db:"refund_type" json:"refund_type"`
	RefundAmount    decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	TaxRefundAmount decimal.Decimal `db:"tax_refund_amount" json:"tax_refund_amount"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
}

// Swap replaces an already sold line with other products
type Swap struct {
	ID                string          `db:"id" json:"id"`
	StoreID           string          `db:"store_id" json:"store_id"`
	SaleID            string          `db:"sale_id" json:"sale_id"`
	ReturnID          string          `db:"return_id" json:"return_id"`
	SaleItemID        string          `db:"sale_item_id" json:"sale_item_id"`
	OriginalProductID string          `db:"original_product_id" json:"original_product_id"`
	OriginalQuantity  int             `db:"original_quantity" json:"original_quantity"`
	RestockAction     string          `db:"restock_action" json:"restock_action"`
	PriceDifference   decimal.Decimal `db:"price_difference" json:"price_difference"`
	TaxDifference     decimal.Decimal `db:"tax_difference" json:"tax_difference"`
	TotalDifference   decimal.Decimal `db:"total_difference" json:"total_difference"`
	CashMirrorID      string          `db:"cash_mirror_id" json:"cash_mirror_id,omitempty"`
	IdempotencyKey    string          `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	Lines             []SwapLine      `db:"-" json:"lines"`
}

// SwapLine is one replacement product handed out in a swap
type SwapLine struct {
	ID        string          `db:"id" json:"id"`
	SwapID    string          `db:"swap_id" json:"swap_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unit_cost"`
}

// LoyaltyAccount is a customer's point balance within a loyalty scope
type LoyaltyAccount struct {
	ID             string    `db:"id" json:"id"`
	ScopeID        string    `db:"scope_id" json:"scope_id"`
	Phone          string    `db:"phone" json:"phone"`
	Balance        int64     `db:"balance" json:"balance"`
	LifetimePoints int64     `db:"lifetime_points" json:"lifetime_points"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LoyaltyTransaction is an append-only audit row of a balance change
type LoyaltyTransaction struct {
	ID          string    `db:"id" json:"id"`
	AccountID   string    `db:"account_id" json:"account_id"`
	Delta       int64     `db:"delta" json:"delta"`
	Reason      string    `db:"reason" json:"reason"`
	ReferenceID string    `db:"reference_id" json:"reference_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LoyaltySettings overrides the earn/redeem rates for a store or an organization
type LoyaltySettings struct {
	ScopeType   string          `db:"scope_type" json:"scope_type"`
	ScopeID     string          `db:"scope_id" json:"scope_id"`
	EarnRate    decimal.Decimal `db:"earn_rate" json:"earn_rate"`
	RedeemValue decimal.Decimal `db:"redeem_value" json:"redeem_value"`
}

// MirrorTransaction is the analytics copy of a sale, refund or swap cash movement
type MirrorTransaction struct {
	ID        string          `db:"id" json:"id"`
	StoreID   string          `db:"store_id" json:"store_id"`
	SaleID    string          `db:"sale_id" json:"sale_id"`
	Kind      string          `db:"kind" json:"kind"`
	ParentID  string          `db:"parent_id" json:"parent_id,omitempty"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount  decimal.Decimal `db:"discount" json:"discount"`
	TaxAmount decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Total     decimal.Decimal `db:"total" json:"total"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Lines     []MirrorLine    `db:"-" json:"lines,omitempty"`
}

// LineForSaleItem returns the index of the line mirroring the given sale item, or -1
func (m *MirrorTransaction) LineForSaleItem(saleItemID string) int {
	for i := range m.Lines {
		if m.Lines[i].SaleItemID == saleItemID {
			return i
		}
	}
	return -1
}

// MirrorLine carries price and cost of one mirrored line
type MirrorLine struct {
	ID         string          `db:"id" json:"id"`
	MirrorID   string          `db:"mirror_id" json:"mirror_id"`
	SaleItemID string          `db:"sale_item_id" json:"sale_item_id,omitempty"`
	ProductID  string          `db:"product_id" json:"product_id"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal  decimal.Decimal `db:"line_total" json:"line_total"`
	UnitCost   decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	TotalCost  decimal.Decimal `db:"total_cost" json:"total_cost"`
}

// Sale statuses
const (
	SaleStatusCompleted = "COMPLETED"
	SaleStatusReturned  = "RETURNED"
)

// Refund types
const (
	RefundTypeNone    = "NONE"
	RefundTypeFull    = "FULL"
	RefundTypePartial = "PARTIAL"
	RefundTypeSwap    = "SWAP"
)

// Restock actions
const (
	RestockActionRestock = "RESTOCK"
	RestockActionDiscard = "DISCARD"
)

// Mirror transaction kinds
const (
	MirrorKindSale       = "SALE"
	MirrorKindRefund     = "REFUND"
	MirrorKindSwapRefund = "SWAP_REFUND"
	MirrorKindSwapCharge = "SWAP_CHARGE"
)

// Loyalty reasons and settings scopes
const (
	LoyaltyReasonEarn   = "earn"
	LoyaltyReasonRedeem = "redeem"

	LoyaltyScopeStore = "store"
	LoyaltyScopeOrg   = "org"
)

// Inventory adjustment reasons
const (
	AdjustmentStockDiscovery = "stock_discovery"
	AdjustmentRestock        = "restock"
)
