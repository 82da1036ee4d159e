package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated   = "sale:created"
	EventTypeReturnCreated = "return:created"
	EventTypeSaleSwapped   = "sale:swapped"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event"`
	StoreID   string    `json:"storeId"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope returns the routing fields shared by all ledger events
func (e BaseEvent) Envelope() BaseEvent { return e }

// SaleDelta is the change a sale applies to the store's live dashboard
type SaleDelta struct {
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
}

// SaleCreatedEvent published when a sale is committed
type SaleCreatedEvent struct {
	BaseEvent
	Delta      SaleDelta `json:"delta"`
	SaleID     string    `json:"saleId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ReturnCreatedEvent published when a return is committed
type ReturnCreatedEvent struct {
	BaseEvent
	SaleID      string          `json:"saleId"`
	ReturnID    string          `json:"returnId"`
	RefundType  string          `json:"refundType"`
	TotalRefund decimal.Decimal `json:"totalRefund"`
	TaxRefund   decimal.Decimal `json:"taxRefund"`
	SaleStatus  string          `json:"saleStatus"`
}

// SaleSwappedEvent published when a swap is committed
type SaleSwappedEvent struct {
	BaseEvent
	SaleID          string          `json:"saleId"`
	SwapID          string          `json:"swapId"`
	PriceDifference decimal.Decimal `json:"priceDifference"`
	TaxDifference   decimal.Decimal `json:"taxDifference"`
	TotalDifference decimal.Decimal `json:"totalDifference"`
}

// RollupDelta is what one ledger operation adds to a store's daily rollup
type RollupDelta struct {
	StoreID      string
	Day          time.Time
	Revenue      decimal.Decimal
	Transactions int64
	Discount     decimal.Decimal
	Tax          decimal.Decimal
	Refunds      decimal.Decimal
	Returns      int64
}

// DailyRollup is a store's running totals for one UTC day
type DailyRollup struct {
	StoreID      string          `json:"storeId"`
	Day          string          `json:"day"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int64           `json:"transactions"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
	Refunds      decimal.Decimal `json:"refunds"`
	Returns      int64           `json:"returns"`
}
