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

// SwapEngine exchanges units of a sold line for other products and corrects the mirror
type SwapEngine struct {
	store     store.Store
	inventory *InventoryLedger
	effects   *SideEffects
	logger    *zap.Logger
	now       func() time.Time
}

// NewSwapEngine creates a new swap engine
func NewSwapEngine(st store.Store, inventory *InventoryLedger, effects *SideEffects) *SwapEngine {
	return &SwapEngine{
		store:     st,
		inventory: inventory,
		effects:   effects,
		logger:    util.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SwapRequest represents a request to swap units of one sale line
type SwapRequest struct {
	SaleID         string            `json:"-"`
	StoreID        string            `json:"store_id" binding:"required"`
	SaleItemID     string            `json:"sale_item_id" binding:"required"`
	Quantity       int               `json:"quantity" binding:"required,min=1"`
	RestockAction  string            `json:"restock_action" binding:"required"`
	NewItems       []SwapItemRequest `json:"new_items" binding:"required,min=1,dive"`
	Reason         string            `json:"reason"`
	ProcessedBy    string            `json:"processed_by"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SwapItemRequest is one replacement product
type SwapItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	// UnitPrice defaults to the catalog price
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// SwapResult is a recorded swap and whether it came from an earlier execution
type SwapResult struct {
	Swap     *models.Swap `json:"swap"`
	Replayed bool         `json:"replayed"`
}

func (r *SwapRequest) validate() error {
	r.SaleID = strings.TrimSpace(r.SaleID)
	r.StoreID = strings.TrimSpace(r.StoreID)
	r.RestockAction = strings.ToUpper(strings.TrimSpace(r.RestockAction))

	if r.SaleID == "" {
		return invalidPayload("sale id is required")
	}
	if r.StoreID == "" {
		return invalidPayload("store_id is required")
	}
	if r.SaleItemID == "" {
		return invalidPayload("sale_item_id is required")
	}
	if r.Quantity <= 0 {
		return invalidPayload("quantity must be positive")
	}
	if err := validRestockAction(r.RestockAction); err != nil {
		return err
	}
	if len(r.NewItems) == 0 {
		return invalidPayload("a swap needs at least one new item")
	}
	for i, item := range r.NewItems {
		if item.ProductID == "" {
			return invalidPayload("new_items[%d].product_id is required", i)
		}
		if item.Quantity <= 0 {
			return invalidPayload("new_items[%d].quantity must be positive", i)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return invalidPayload("new_items[%d].unit_price must not be negative", i)
		}
	}
	return nil
}

// Swap records a swap exactly once per (store, idempotency key)
func (e *SwapEngine) Swap(ctx context.Context, req *SwapRequest, key string) (result *SwapResult, err error) {
	ctx, op := startOperation(ctx, OpSwap, "SwapEngine.Swap",
		attribute.String("sale_id", req.SaleID), attribute.String("store_id", req.StoreID))
	defer func() { op.finish(err) }()

	key, err = idempotencyKey(key, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err = req.validate(); err != nil {
		return nil, err
	}

	existing, err := lookupReplay(func() (*models.Swap, error) {
		return e.store.GetSwapByIdempotencyKey(ctx, req.StoreID, key)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.replay(existing, key), nil
	}

	var swap *models.Swap
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		var txErr error
		swap, txErr = e.record(ctx, tx, req, key)
		return txErr
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		winner, readErr := e.store.GetSwapByIdempotencyKey(ctx, req.StoreID, key)
		if readErr != nil {
			return nil, persistenceFailure("read concurrent swap", readErr)
		}
		return e.replay(winner, key), nil
	}
	if err != nil {
		err = asLedgerError("record swap", err)
		e.logger.Warn("Swap rejected",
			zap.String("sale_id", req.SaleID),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return nil, err
	}

	util.SwapsCreatedTotal.Inc()
	e.logger.Info("Swap created",
		zap.String("swap_id", swap.ID),
		zap.String("sale_id", swap.SaleID),
		zap.String("price_difference", swap.PriceDifference.StringFixed(models.MoneyScale)),
		zap.String("total_difference", swap.TotalDifference.StringFixed(models.MoneyScale)))

	e.effects.SaleSwapped(ctx, swap)
	return &SwapResult{Swap: swap}, nil
}

func (e *SwapEngine) replay(swap *models.Swap, key string) *SwapResult {
	util.SalesReplayedTotal.WithLabelValues(OpSwap).Inc()
	e.logger.Info("Duplicate swap request detected",
		zap.String("idempotency_key", key),
		zap.String("swap_id", swap.ID))
	return &SwapResult{Swap: swap, Replayed: true}
}

// replacements loads the new products; missing or inactive ones are not purchasable
func (e *SwapEngine) replacements(ctx context.Context, tx store.Tx, items []SwapItemRequest) (map[string]models.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := tx.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, id := range ids {
		if p, ok := products[id]; !ok || !p.Active {
			return nil, newLedgerError(KindNewProductNotFound, "replacement product not found").WithDetail("product_id", id)
		}
	}
	return products, nil
}

func (e *SwapEngine) record(ctx context.Context, tx store.Tx, req *SwapRequest, key string) (*models.Swap, error) {
	sale, err := loadReturnableSale(ctx, tx, req.SaleID, req.StoreID)
	if err != nil {
		return nil, err
	}

	item, ok := sale.Item(req.SaleItemID)
	if !ok {
		return nil, invalidPayload("sale item %s does not belong to sale %s", req.SaleItemID, sale.ID)
	}

	consumed, err := tx.ConsumedQuantities(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum returned quantities: %w", err)
	}
	if err := checkRemaining(item, consumed, req.Quantity); err != nil {
		return nil, err
	}

	products, err := e.replacements(ctx, tx, req.NewItems)
	if err != nil {
		return nil, err
	}

	mirror, err := tx.GetSaleMirrorForUpdate(ctx, sale.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to lock sale mirror: %w", err)
	}

	now := e.now()
	swap := &models.Swap{
		ID:                uuid.New().String(),
		StoreID:           sale.StoreID,
		SaleID:            sale.ID,
		ReturnID:          uuid.New().String(),
		SaleItemID:        item.ID,
		OriginalProductID: item.ProductID,
		OriginalQuantity:  req.Quantity,
		RestockAction:     req.RestockAction,
		IdempotencyKey:    key,
		CreatedAt:         now,
	}

	originalCost, err := mirrorUnitCost(ctx, tx, mirror, sale.StoreID, item)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit cost: %w", err)
	}
	if err := e.inventory.Dispose(ctx, tx, req.RestockAction, sale.StoreID, item.ProductID, req.Quantity, originalCost, swap.ID); err != nil {
		return nil, err
	}

	originalTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	newTotal := decimal.Zero
	for _, reqItem := range req.NewItems {
		product := products[reqItem.ProductID]
		price := product.Price
		if reqItem.UnitPrice != nil {
			price = *reqItem.UnitPrice
		}

		unitCost, err := e.inventory.Debit(ctx, tx, sale.StoreID, product, reqItem.Quantity, swap.ID)
		if err != nil {
			return nil, err
		}

		swap.Lines = append(swap.Lines, models.SwapLine{
			ID:        uuid.New().String(),
			SwapID:    swap.ID,
			ProductID: product.ID,
			Quantity:  reqItem.Quantity,
			UnitPrice: price,
			UnitCost:  unitCost,
		})
		newTotal = newTotal.Add(price.Mul(decimal.NewFromInt(int64(reqItem.Quantity))))
	}

	swap.PriceDifference = models.RoundMoney(newTotal.Sub(originalTotal))
	swap.TaxDifference = models.RoundMoney(swap.PriceDifference.Mul(sale.TaxRate()))
	swap.TotalDifference = swap.PriceDifference.Add(swap.TaxDifference)

	if err := e.auditReturn(ctx, tx, sale, item, swap, req); err != nil {
		return nil, err
	}

	if err := tx.UpdateSaleTotals(ctx, sale.ID,
		sale.Subtotal.Add(swap.PriceDifference),
		sale.Tax.Add(swap.TaxDifference),
		sale.Total.Add(swap.TotalDifference)); err != nil {
		return nil, fmt.Errorf("failed to adjust sale totals: %w", err)
	}

	if mirror != nil {
		if err := e.correctMirror(ctx, tx, mirror, item, swap); err != nil {
			return nil, err
		}
	} else {
		e.logger.Warn("Sale has no mirror to correct", zap.String("sale_id", sale.ID))
	}

	if !swap.PriceDifference.IsZero() {
		cash := cashMirror(sale, mirror, swap)
		if err := tx.InsertMirror(ctx, cash); err != nil {
			return nil, fmt.Errorf("failed to write swap cash mirror: %w", err)
		}
		swap.CashMirrorID = cash.ID
	}

	if err := tx.InsertSwap(ctx, swap); err != nil {
		return nil, err
	}
	return swap, nil
}

// auditReturn records the swapped-out units as a SWAP return so later returns see them consumed
func (e *SwapEngine) auditReturn(ctx context.Context, tx store.Tx, sale *models.Sale, item models.SaleItem, swap *models.Swap, req *SwapRequest) error {
	refund := models.MaxZero(swap.PriceDifference.Neg())
	taxRefund := models.MaxZero(swap.TaxDifference.Neg())

	ret := &models.Return{
		ID:             swap.ReturnID,
		SaleID:         sale.ID,
		StoreID:        sale.StoreID,
		Reason:         req.Reason,
		ProcessedBy:    req.ProcessedBy,
		RefundType:     models.RefundTypeSwap,
		TotalRefund:    refund,
		TotalTaxRefund: taxRefund,
		Currency:       sale.Currency,
		SwapID:         swap.ID,
		CreatedAt:      swap.CreatedAt,
		Items: []models.ReturnItem{{
			ID:              uuid.New().String(),
			ReturnID:        swap.ReturnID,
			SaleItemID:      item.ID,
			ProductID:       item.ProductID,
			Quantity:        req.Quantity,
			RestockAction:   req.RestockAction,
			RefundType:      models.RefundTypeSwap,
			RefundAmount:    refund,
			TaxRefundAmount: taxRefund,
			Notes:           "swap " + swap.ID,
		}},
	}
	return tx.InsertReturn(ctx, ret)
}

// correctMirror rewrites the sale mirror so it shows the replacement products.
// Swapping the line's whole mirrored quantity overwrites it in place; otherwise the
// line shrinks and the replacements are appended.
func (e *SwapEngine) correctMirror(ctx context.Context, tx store.Tx, mirror *models.MirrorTransaction, item models.SaleItem, swap *models.Swap) error {
	idx := mirror.LineForSaleItem(item.ID)
	appendFrom := 0

	if idx >= 0 {
		line := mirror.Lines[idx]
		if line.Quantity == swap.OriginalQuantity {
			first := swap.Lines[0]
			line.ProductID = first.ProductID
			line.Quantity = first.Quantity
			line.UnitPrice = first.UnitPrice
			line.LineTotal = models.RoundMoney(first.UnitPrice.Mul(decimal.NewFromInt(int64(first.Quantity))))
			line.UnitCost = first.UnitCost
			line.TotalCost = models.RoundMoney(first.UnitCost.Mul(decimal.NewFromInt(int64(first.Quantity))))
			appendFrom = 1
		} else {
			qty := decimal.NewFromInt(int64(swap.OriginalQuantity))
			line.Quantity -= swap.OriginalQuantity
			line.LineTotal = models.RoundMoney(line.LineTotal.Sub(line.UnitPrice.Mul(qty)))
			line.TotalCost = models.RoundMoney(line.TotalCost.Sub(line.UnitCost.Mul(qty)))
		}
		if err := tx.UpdateMirrorLine(ctx, &line); err != nil {
			return fmt.Errorf("failed to rewrite mirror line: %w", err)
		}
		mirror.Lines[idx] = line
	}

	for _, sl := range swap.Lines[appendFrom:] {
		line := models.MirrorLine{
			ID:        uuid.New().String(),
			MirrorID:  mirror.ID,
			ProductID: sl.ProductID,
			Quantity:  sl.Quantity,
			UnitPrice: sl.UnitPrice,
			LineTotal: models.RoundMoney(sl.UnitPrice.Mul(decimal.NewFromInt(int64(sl.Quantity)))),
			UnitCost:  sl.UnitCost,
			TotalCost: models.RoundMoney(sl.UnitCost.Mul(decimal.NewFromInt(int64(sl.Quantity)))),
		}
		if err := tx.InsertMirrorLine(ctx, &line); err != nil {
			return fmt.Errorf("failed to append mirror line: %w", err)
		}
		mirror.Lines = append(mirror.Lines, line)
	}

	mirror.Subtotal = mirror.Subtotal.Add(swap.PriceDifference)
	mirror.TaxAmount = mirror.TaxAmount.Add(swap.TaxDifference)
	mirror.Total = mirror.Total.Add(swap.TotalDifference)
	if err := tx.UpdateMirrorTotals(ctx, mirror); err != nil {
		return fmt.Errorf("failed to adjust mirror totals: %w", err)
	}
	return nil
}

// cashMirror books the money that changed hands at the counter. It carries no lines:
// the corrected sale mirror already holds the revenue and cost.
func cashMirror(sale *models.Sale, mirror *models.MirrorTransaction, swap *models.Swap) *models.MirrorTransaction {
	kind := models.MirrorKindSwapCharge
	if swap.PriceDifference.IsNegative() {
		kind = models.MirrorKindSwapRefund
	}

	cash := &models.MirrorTransaction{
		ID:        uuid.New().String(),
		StoreID:   sale.StoreID,
		SaleID:    sale.ID,
		Kind:      kind,
		Subtotal:  swap.PriceDifference.Abs(),
		Discount:  decimal.Zero,
		TaxAmount: swap.TaxDifference.Abs(),
		Total:     swap.TotalDifference.Abs(),
		Currency:  sale.Currency,
		CreatedAt: swap.CreatedAt,
	}
	if mirror != nil {
		cash.ParentID = mirror.ID
	}
	return cash
}
