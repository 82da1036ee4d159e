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

// ReturnEngine reverses all or part of a recorded sale
type ReturnEngine struct {
	store     store.Store
	inventory *InventoryLedger
	effects   *SideEffects
	logger    *zap.Logger
	now       func() time.Time
}

// NewReturnEngine creates a new return engine
func NewReturnEngine(st store.Store, inventory *InventoryLedger, effects *SideEffects) *ReturnEngine {
	return &ReturnEngine{
		store:     st,
		inventory: inventory,
		effects:   effects,
		logger:    util.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateReturnRequest represents a request to return sale lines
type CreateReturnRequest struct {
	SaleID         string              `json:"-"`
	StoreID        string              `json:"store_id" binding:"required"`
	Reason         string              `json:"reason"`
	ProcessedBy    string              `json:"processed_by"`
	Items          []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// ReturnItemRequest represents one returned sale line
type ReturnItemRequest struct {
	SaleItemID    string `json:"sale_item_id" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required,min=1"`
	RestockAction string `json:"restock_action" binding:"required"`
	// RefundType is NONE, FULL or PARTIAL; FULL when empty
	RefundType string `json:"refund_type,omitempty"`
	// RefundAmount caps a PARTIAL refund
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// ReturnResult is a recorded return and whether it came from an earlier execution
type ReturnResult struct {
	Return     *models.Return `json:"return"`
	SaleStatus string         `json:"sale_status,omitempty"`
	Replayed   bool           `json:"replayed"`
}

func (r *CreateReturnRequest) validate() error {
	r.SaleID = strings.TrimSpace(r.SaleID)
	r.StoreID = strings.TrimSpace(r.StoreID)

	if r.SaleID == "" {
		return invalidPayload("sale id is required")
	}
	if r.StoreID == "" {
		return invalidPayload("store_id is required")
	}
	if len(r.Items) == 0 {
		return invalidPayload("a return needs at least one item")
	}

	seen := make(map[string]bool, len(r.Items))
	for i := range r.Items {
		item := &r.Items[i]
		item.RestockAction = strings.ToUpper(strings.TrimSpace(item.RestockAction))
		item.RefundType = strings.ToUpper(strings.TrimSpace(item.RefundType))
		if item.RefundType == "" {
			item.RefundType = models.RefundTypeFull
		}

		if item.SaleItemID == "" {
			return invalidPayload("items[%d].sale_item_id is required", i)
		}
		if seen[item.SaleItemID] {
			return invalidPayload("sale item %s appears more than once", item.SaleItemID)
		}
		seen[item.SaleItemID] = true
		if item.Quantity <= 0 {
			return invalidPayload("items[%d].quantity must be positive", i)
		}
		if err := validRestockAction(item.RestockAction); err != nil {
			return err
		}
		switch item.RefundType {
		case models.RefundTypeNone, models.RefundTypeFull:
		case models.RefundTypePartial:
			if item.RefundAmount == nil || item.RefundAmount.IsNegative() {
				return invalidPayload("items[%d] needs a non-negative refund_amount for a PARTIAL refund", i)
			}
		default:
			return invalidPayload("items[%d].refund_type %q is not one of NONE, FULL, PARTIAL", i, item.RefundType)
		}
	}
	return nil
}

func validRestockAction(action string) error {
	switch action {
	case models.RestockActionRestock, models.RestockActionDiscard:
		return nil
	}
	return invalidPayload("restock_action %q is not one of RESTOCK, DISCARD", action)
}

// lineRefund is the money owed back for returning qty units of a sale line
type lineRefund struct {
	amount decimal.Decimal
	tax    decimal.Decimal
}

// computeLineRefund prices a return of qty units: base = lineTotal/lineQty × qty,
// tax = base × taxRate, and a PARTIAL refund scales tax by amount/base.
func computeLineRefund(item models.SaleItem, qty int, taxRate decimal.Decimal, refundType string, requested *decimal.Decimal) lineRefund {
	base := models.RoundMoney(item.LineTotal.Mul(decimal.NewFromInt(int64(qty))).
		DivRound(decimal.NewFromInt(int64(item.Quantity)), models.RateScale))
	baseTax := models.RoundMoney(base.Mul(taxRate))

	switch refundType {
	case models.RefundTypeNone:
		return lineRefund{amount: decimal.Zero, tax: decimal.Zero}
	case models.RefundTypePartial:
		amount := base
		if requested != nil && requested.LessThan(base) {
			amount = models.RoundMoney(*requested)
		}
		if base.IsZero() {
			return lineRefund{amount: decimal.Zero, tax: decimal.Zero}
		}
		tax := models.RoundMoney(baseTax.Mul(amount).DivRound(base, models.RateScale))
		return lineRefund{amount: amount, tax: tax}
	default:
		return lineRefund{amount: base, tax: baseTax}
	}
}

// CreateReturn records a return exactly once per (store, idempotency key)
func (e *ReturnEngine) CreateReturn(ctx context.Context, req *CreateReturnRequest, key string) (result *ReturnResult, err error) {
	ctx, op := startOperation(ctx, OpCreateReturn, "ReturnEngine.CreateReturn",
		attribute.String("sale_id", req.SaleID), attribute.String("store_id", req.StoreID))
	defer func() { op.finish(err) }()

	key, err = idempotencyKey(key, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err = req.validate(); err != nil {
		return nil, err
	}

	existing, err := lookupReplay(func() (*models.Return, error) {
		return e.store.GetReturnByIdempotencyKey(ctx, req.StoreID, key)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.replay(ctx, existing, key), nil
	}

	var ret *models.Return
	var saleStatus string
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		var txErr error
		ret, saleStatus, txErr = e.record(ctx, tx, req, key)
		return txErr
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		winner, readErr := e.store.GetReturnByIdempotencyKey(ctx, req.StoreID, key)
		if readErr != nil {
			return nil, persistenceFailure("read concurrent return", readErr)
		}
		return e.replay(ctx, winner, key), nil
	}
	if err != nil {
		err = asLedgerError("record return", err)
		e.logger.Warn("Return rejected",
			zap.String("sale_id", req.SaleID),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return nil, err
	}

	util.ReturnsCreatedTotal.WithLabelValues(ret.RefundType).Inc()
	e.logger.Info("Return created",
		zap.String("return_id", ret.ID),
		zap.String("sale_id", ret.SaleID),
		zap.String("refund_type", ret.RefundType),
		zap.String("total_refund", ret.TotalRefund.StringFixed(models.MoneyScale)),
		zap.String("sale_status", saleStatus))

	e.effects.ReturnCreated(ctx, ret, saleStatus)
	return &ReturnResult{Return: ret, SaleStatus: saleStatus}, nil
}

func (e *ReturnEngine) replay(ctx context.Context, ret *models.Return, key string) *ReturnResult {
	util.SalesReplayedTotal.WithLabelValues(OpCreateReturn).Inc()
	e.logger.Info("Duplicate return request detected",
		zap.String("idempotency_key", key),
		zap.String("return_id", ret.ID))

	result := &ReturnResult{Return: ret, Replayed: true}
	if sale, err := e.store.GetSaleByID(ctx, ret.SaleID); err == nil {
		result.SaleStatus = sale.Status
	}
	return result
}

// loadReturnableSale locks the sale and checks it can still be returned against
func loadReturnableSale(ctx context.Context, tx store.Tx, saleID, storeID string) (*models.Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newLedgerError(KindSaleNotFound, "sale not found").WithDetail("sale_id", saleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock sale: %w", err)
	}
	if sale.StoreID != storeID {
		return nil, newLedgerError(KindStoreMismatch, "sale belongs to another store").
			WithDetail("sale_id", saleID).
			WithDetail("store_id", storeID)
	}
	if sale.Status == models.SaleStatusReturned {
		return nil, newLedgerError(KindSaleAlreadyReturned, "sale is fully returned").WithDetail("sale_id", saleID)
	}
	return sale, nil
}

// checkRemaining fails unless qty units of item are neither returned nor swapped yet
func checkRemaining(item models.SaleItem, consumed models.ConsumedQuantities, qty int) error {
	remaining := consumed.Remaining(item)
	if qty > remaining {
		return newLedgerError(KindReturnQuantityExceedsRemaining, "return quantity exceeds remaining quantity").
			WithDetail("sale_item_id", item.ID).
			WithDetail("requested", fmt.Sprint(qty)).
			WithDetail("remaining", fmt.Sprint(remaining))
	}
	return nil
}

// mirrorUnitCost is the cost the line's units were sold at, falling back to the current average cost
func mirrorUnitCost(ctx context.Context, tx store.Tx, mirror *models.MirrorTransaction, storeID string, item models.SaleItem) (decimal.Decimal, error) {
	if mirror != nil {
		if idx := mirror.LineForSaleItem(item.ID); idx >= 0 {
			return mirror.Lines[idx].UnitCost, nil
		}
	}
	rec, err := tx.GetInventory(ctx, storeID, item.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return rec.AverageCost, nil
}

func (e *ReturnEngine) record(ctx context.Context, tx store.Tx, req *CreateReturnRequest, key string) (*models.Return, string, error) {
	sale, err := loadReturnableSale(ctx, tx, req.SaleID, req.StoreID)
	if err != nil {
		return nil, "", err
	}

	consumed, err := tx.ConsumedQuantities(ctx, sale.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sum returned quantities: %w", err)
	}

	mirror, err := tx.GetSaleMirrorForUpdate(ctx, sale.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to lock sale mirror: %w", err)
	}

	taxRate := sale.TaxRate()
	ret := &models.Return{
		ID:             uuid.New().String(),
		SaleID:         sale.ID,
		StoreID:        sale.StoreID,
		Reason:         req.Reason,
		ProcessedBy:    req.ProcessedBy,
		TotalRefund:    decimal.Zero,
		TotalTaxRefund: decimal.Zero,
		Currency:       sale.Currency,
		IdempotencyKey: key,
		CreatedAt:      e.now(),
	}
	refund := &models.MirrorTransaction{
		ID:        uuid.New().String(),
		StoreID:   sale.StoreID,
		SaleID:    sale.ID,
		Kind:      models.MirrorKindRefund,
		Discount:  decimal.Zero,
		Currency:  sale.Currency,
		CreatedAt: ret.CreatedAt,
	}
	if mirror != nil {
		refund.ParentID = mirror.ID
	}

	allFull := true
	for _, reqItem := range req.Items {
		item, ok := sale.Item(reqItem.SaleItemID)
		if !ok {
			return nil, "", invalidPayload("sale item %s does not belong to sale %s", reqItem.SaleItemID, sale.ID)
		}
		if err := checkRemaining(item, consumed, reqItem.Quantity); err != nil {
			return nil, "", err
		}

		unitCost, err := mirrorUnitCost(ctx, tx, mirror, sale.StoreID, item)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve unit cost: %w", err)
		}

		lr := computeLineRefund(item, reqItem.Quantity, taxRate, reqItem.RefundType, reqItem.RefundAmount)
		if reqItem.RefundType != models.RefundTypeFull {
			allFull = false
		}

		ret.Items = append(ret.Items, models.ReturnItem{
			ID:              uuid.New().String(),
			ReturnID:        ret.ID,
			SaleItemID:      item.ID,
			ProductID:       item.ProductID,
			Quantity:        reqItem.Quantity,
			RestockAction:   reqItem.RestockAction,
			RefundType:      reqItem.RefundType,
			RefundAmount:    lr.amount,
			TaxRefundAmount: lr.tax,
			Notes:           reqItem.Notes,
		})
		ret.TotalRefund = ret.TotalRefund.Add(lr.amount)
		ret.TotalTaxRefund = ret.TotalTaxRefund.Add(lr.tax)

		refund.Lines = append(refund.Lines, models.MirrorLine{
			ID:         uuid.New().String(),
			MirrorID:   refund.ID,
			SaleItemID: item.ID,
			ProductID:  item.ProductID,
			Quantity:   reqItem.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  lr.amount,
			UnitCost:   unitCost,
			TotalCost:  models.RoundMoney(unitCost.Mul(decimal.NewFromInt(int64(reqItem.Quantity)))),
		})

		if err := e.inventory.Dispose(ctx, tx, reqItem.RestockAction, sale.StoreID, item.ProductID, reqItem.Quantity, unitCost, ret.ID); err != nil {
			return nil, "", err
		}
		consumed.Returned[item.ID] += reqItem.Quantity
	}

	fullyReturned := consumed.FullyReturned(sale.Items)

	switch {
	case allFull && fullyReturned:
		ret.RefundType = models.RefundTypeFull
	case ret.TotalRefund.IsPositive():
		ret.RefundType = models.RefundTypePartial
	default:
		ret.RefundType = models.RefundTypeNone
	}

	if err := tx.InsertReturn(ctx, ret); err != nil {
		return nil, "", err
	}

	status := sale.Status
	if fullyReturned {
		status = models.SaleStatusReturned
		if err := tx.UpdateSaleStatus(ctx, sale.ID, status); err != nil {
			return nil, "", fmt.Errorf("failed to mark sale returned: %w", err)
		}
	}

	refund.Subtotal = ret.TotalRefund
	refund.TaxAmount = ret.TotalTaxRefund
	refund.Total = ret.TotalRefund.Add(ret.TotalTaxRefund)
	if err := tx.InsertMirror(ctx, refund); err != nil {
		return nil, "", fmt.Errorf("failed to write refund mirror: %w", err)
	}

	return ret, status, nil
}
