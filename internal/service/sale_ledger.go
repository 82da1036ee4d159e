package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SaleLedger records completed sales
type SaleLedger struct {
	store           store.Store
	inventory       *InventoryLedger
	loyalty         *LoyaltyLedger
	payments        *PaymentService
	effects         *SideEffects
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

// NewSaleLedger creates a new sale ledger
func NewSaleLedger(
	st store.Store,
	inventory *InventoryLedger,
	loyalty *LoyaltyLedger,
	payments *PaymentService,
	effects *SideEffects,
	defaultCurrency string,
) *SaleLedger {
	return &SaleLedger{
		store:           st,
		inventory:       inventory,
		loyalty:         loyalty,
		payments:        payments,
		effects:         effects,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateSaleRequest represents a request to record a sale
type CreateSaleRequest struct {
	StoreID        string            `json:"store_id" binding:"required"`
	CashierID      string            `json:"cashier_id" binding:"required"`
	CustomerPhone  string            `json:"customer_phone,omitempty"`
	Items          []SaleItemRequest `json:"items" binding:"required,min=1,dive"`
	Subtotal       decimal.Decimal   `json:"subtotal" binding:"gte=0"`
	Discount       decimal.Decimal   `json:"discount" binding:"gte=0"`
	Tax            decimal.Decimal   `json:"tax" binding:"gte=0"`
	Total          *decimal.Decimal  `json:"total,omitempty"`
	RedeemPoints   int64             `json:"redeem_points" binding:"gte=0"`
	Currency       string            `json:"currency,omitempty"`
	Payment        models.Payment    `json:"payment"`
	OccurredAt     *time.Time        `json:"occurred_at,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SaleItemRequest represents one line of a sale request
type SaleItemRequest struct {
	ProductID    string          `json:"product_id" binding:"required"`
	Quantity     int             `json:"quantity" binding:"required,min=1"`
	UnitPrice    decimal.Decimal `json:"unit_price" binding:"gte=0"`
	LineDiscount decimal.Decimal `json:"line_discount" binding:"gte=0"`
	LineTotal    decimal.Decimal `json:"line_total" binding:"gte=0"`
}

// SaleResult is a recorded sale and whether it came from an earlier execution
type SaleResult struct {
	Sale     *models.Sale `json:"sale"`
	Replayed bool         `json:"replayed"`
}

func (r *CreateSaleRequest) validate() error {
	r.StoreID = strings.TrimSpace(r.StoreID)
	r.CustomerPhone = strings.TrimSpace(r.CustomerPhone)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Payment.Normalize()

	if r.StoreID == "" {
		return invalidPayload("store_id is required")
	}
	if strings.TrimSpace(r.CashierID) == "" {
		return invalidPayload("cashier_id is required")
	}
	if len(r.Items) == 0 {
		return invalidPayload("a sale needs at least one item")
	}
	if r.RedeemPoints < 0 {
		return invalidPayload("redeem_points must not be negative")
	}
	if r.RedeemPoints > 0 && r.CustomerPhone == "" {
		return invalidPayload("redeeming points requires a customer_phone")
	}
	for name, amount := range map[string]decimal.Decimal{"subtotal": r.Subtotal, "discount": r.Discount, "tax": r.Tax} {
		if amount.IsNegative() {
			return invalidPayload("%s must not be negative", name)
		}
	}

	lineSum := decimal.Zero
	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return invalidPayload("items[%d].product_id is required", i)
		}
		if item.Quantity <= 0 {
			return invalidPayload("items[%d].quantity must be positive", i)
		}
		if item.UnitPrice.IsNegative() || item.LineDiscount.IsNegative() || item.LineTotal.IsNegative() {
			return invalidPayload("items[%d] amounts must not be negative", i)
		}
		expected := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Sub(item.LineDiscount)
		if !models.WithinTolerance(expected, item.LineTotal) {
			return invalidPayload("items[%d].line_total %s does not match quantity × unit_price − line_discount = %s",
				i, item.LineTotal.StringFixed(models.MoneyScale), expected.StringFixed(models.MoneyScale))
		}
		lineSum = lineSum.Add(item.LineTotal)
	}
	if !models.WithinTolerance(lineSum, r.Subtotal) {
		return invalidPayload("line totals %s do not reconcile with subtotal %s",
			lineSum.StringFixed(models.MoneyScale), r.Subtotal.StringFixed(models.MoneyScale))
	}
	return nil
}

// CreateSale records a sale exactly once per (store, idempotency key). Inventory debit,
// mirror rows and loyalty redeem/earn commit together with the sale or not at all.
func (l *SaleLedger) CreateSale(ctx context.Context, req *CreateSaleRequest, key string) (result *SaleResult, err error) {
	ctx, op := startOperation(ctx, OpCreateSale, "SaleLedger.CreateSale", attribute.String("store_id", req.StoreID))
	defer func() { op.finish(err) }()

	key, err = idempotencyKey(key, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err = req.validate(); err != nil {
		return nil, err
	}

	existing, err := lookupReplay(func() (*models.Sale, error) {
		return l.store.GetSaleByIdempotencyKey(ctx, req.StoreID, key)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return l.replay(existing, key), nil
	}

	var sale *models.Sale
	err = l.store.WithTx(ctx, func(tx store.Tx) error {
		var txErr error
		sale, txErr = l.record(ctx, tx, req, key)
		return txErr
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		// a concurrent request with the same key won the insert
		winner, readErr := l.store.GetSaleByIdempotencyKey(ctx, req.StoreID, key)
		if readErr != nil {
			return nil, persistenceFailure("read concurrent sale", readErr)
		}
		return l.replay(winner, key), nil
	}
	if err != nil {
		err = asLedgerError("record sale", err)
		l.logger.Error("Sale failed",
			zap.String("store_id", req.StoreID),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return nil, err
	}

	util.SalesCreatedTotal.Inc()
	l.logger.Info("Sale created",
		zap.String("sale_id", sale.ID),
		zap.String("store_id", sale.StoreID),
		zap.String("total", sale.Total.StringFixed(models.MoneyScale)),
		zap.Int64("earned_points", sale.EarnedPoints),
		zap.Int64("redeemed_points", sale.RedeemedPoints))

	l.effects.SaleCreated(ctx, sale)
	return &SaleResult{Sale: sale}, nil
}

func (l *SaleLedger) replay(sale *models.Sale, key string) *SaleResult {
	util.SalesReplayedTotal.WithLabelValues(OpCreateSale).Inc()
	l.logger.Info("Duplicate sale request detected",
		zap.String("idempotency_key", key),
		zap.String("sale_id", sale.ID))
	return &SaleResult{Sale: sale, Replayed: true}
}

func (l *SaleLedger) record(ctx context.Context, tx store.Tx, req *CreateSaleRequest, key string) (*models.Sale, error) {
	st, err := tx.GetStore(ctx, req.StoreID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalidPayload("unknown store %q", req.StoreID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	products, err := l.products(ctx, tx, req.Items)
	if err != nil {
		return nil, err
	}

	rates, err := l.loyalty.ResolveRates(ctx, tx, st)
	if err != nil {
		return nil, err
	}

	loyaltyDiscount := rates.RedemptionDiscount(req.RedeemPoints)
	effectiveDiscount := req.Discount.Add(loyaltyDiscount)
	total := models.RoundMoney(models.MaxZero(req.Subtotal.Sub(effectiveDiscount).Add(req.Tax)))

	if req.Total != nil && !models.WithinTolerance(*req.Total, total) {
		return nil, invalidPayload("total %s does not match computed total %s",
			req.Total.StringFixed(models.MoneyScale), total.StringFixed(models.MoneyScale)).
			WithDetail("computed_total", total.StringFixed(models.MoneyScale))
	}
	if err := l.payments.Validate(ctx, req.Payment, total); err != nil {
		return nil, err
	}

	var earned int64
	if req.CustomerPhone != "" {
		earned = rates.EarnedPoints(req.Subtotal.Sub(effectiveDiscount))
	}

	sale := l.newSale(req, st, key, loyaltyDiscount, total, earned)
	if err := tx.InsertSale(ctx, sale); err != nil {
		return nil, err
	}

	if req.CustomerPhone != "" {
		account, err := l.loyalty.Account(ctx, tx, st.LoyaltyScope(), req.CustomerPhone, true)
		if err != nil {
			return nil, err
		}
		if err := l.loyalty.Redeem(ctx, tx, account, req.RedeemPoints, sale.ID); err != nil {
			return nil, err
		}
		if err := l.loyalty.Earn(ctx, tx, account, earned, sale.ID); err != nil {
			return nil, err
		}
	}

	mirror := &models.MirrorTransaction{
		ID:        uuid.New().String(),
		StoreID:   sale.StoreID,
		SaleID:    sale.ID,
		Kind:      models.MirrorKindSale,
		Subtotal:  sale.Subtotal,
		Discount:  effectiveDiscount,
		TaxAmount: sale.Tax,
		Total:     sale.Total,
		Currency:  sale.Currency,
		CreatedAt: sale.OccurredAt,
	}
	for _, item := range sale.Items {
		unitCost, err := l.inventory.Debit(ctx, tx, sale.StoreID, products[item.ProductID], item.Quantity, sale.ID)
		if err != nil {
			return nil, err
		}
		mirror.Lines = append(mirror.Lines, models.MirrorLine{
			ID:         uuid.New().String(),
			MirrorID:   mirror.ID,
			SaleItemID: item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
			UnitCost:   unitCost,
			TotalCost:  models.RoundMoney(unitCost.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}
	if err := tx.InsertMirror(ctx, mirror); err != nil {
		return nil, fmt.Errorf("failed to write sale mirror: %w", err)
	}

	return sale, nil
}

func (l *SaleLedger) products(ctx context.Context, tx store.Tx, items []SaleItemRequest) (map[string]models.Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := tx.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, invalidPayload("unknown product %q", id)
		}
	}
	return products, nil
}

func (l *SaleLedger) newSale(req *CreateSaleRequest, st *models.Store, key string, loyaltyDiscount, total decimal.Decimal, earned int64) *models.Sale {
	currency := req.Currency
	if currency == "" {
		currency = st.Currency
	}
	if currency == "" {
		currency = l.defaultCurrency
	}

	occurredAt := l.now()
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC()
	}

	sale := &models.Sale{
		ID:              uuid.New().String(),
		StoreID:         st.ID,
		CashierID:       strings.TrimSpace(req.CashierID),
		CustomerPhone:   req.CustomerPhone,
		Subtotal:        models.RoundMoney(req.Subtotal),
		Discount:        models.RoundMoney(req.Discount),
		LoyaltyDiscount: loyaltyDiscount,
		RedeemedPoints:  req.RedeemPoints,
		EarnedPoints:    earned,
		Tax:             models.RoundMoney(req.Tax),
		Total:           total,
		Currency:        currency,
		Payment:         req.Payment,
		IdempotencyKey:  key,
		Status:          models.SaleStatusCompleted,
		OccurredAt:      occurredAt,
	}
	for _, item := range req.Items {
		sale.Items = append(sale.Items, models.SaleItem{
			ID:           uuid.New().String(),
			SaleID:       sale.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    models.RoundMoney(item.UnitPrice),
			LineDiscount: models.RoundMoney(item.LineDiscount),
			LineTotal:    models.RoundMoney(item.LineTotal),
		})
	}
	return sale
}

// GetSale returns a sale with its items
func (l *SaleLedger) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	sale, err := l.store.GetSaleByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newLedgerError(KindSaleNotFound, "sale not found").WithDetail("sale_id", id)
	}
	if err != nil {
		return nil, persistenceFailure("read sale", err)
	}
	return sale, nil
}
