package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryLedger keeps per store and product quantity and weighted average cost.
// Mutations run on the caller's unit of work.
type InventoryLedger struct {
	reader store.Reader
	logger *zap.Logger
	now    func() time.Time
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(reader store.Reader) *InventoryLedger {
	return &InventoryLedger{
		reader: reader,
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Debit takes qty units of product out of stock and returns the average cost the
// units left at. A shortfall is auto-discovered first so a completed sale never fails on stock.
func (l *InventoryLedger) Debit(ctx context.Context, tx store.Tx, storeID string, product models.Product, qty int, referenceID string) (decimal.Decimal, error) {
	rec, err := tx.GetInventoryForUpdate(ctx, storeID, product.ID, product.CostPrice)
	if err != nil {
		return decimal.Zero, err
	}
	unitCost := rec.AverageCost

	if rec.Quantity < qty {
		if err := l.AutoDiscover(ctx, tx, rec, qty-rec.Quantity, referenceID); err != nil {
			return decimal.Zero, err
		}
	}

	rec.Quantity -= qty
	rec.UpdatedAt = l.now()
	if err := tx.SaveInventory(ctx, rec); err != nil {
		return decimal.Zero, fmt.Errorf("failed to debit inventory: %w", err)
	}
	return unitCost, nil
}

// AutoDiscover books a positive stock_discovery adjustment covering shortfall
func (l *InventoryLedger) AutoDiscover(ctx context.Context, tx store.Tx, rec *models.InventoryRecord, shortfall int, referenceID string) error {
	adj := &models.InventoryAdjustment{
		ID:          uuid.New().String(),
		StoreID:     rec.StoreID,
		ProductID:   rec.ProductID,
		Delta:       shortfall,
		Reason:      models.AdjustmentStockDiscovery,
		ReferenceID: referenceID,
		Note: fmt.Sprintf("auto-discovered %d unit(s): recorded stock %d below requested %d",
			shortfall, rec.Quantity, rec.Quantity+shortfall),
		CreatedAt: l.now(),
	}
	if err := tx.InsertInventoryAdjustment(ctx, adj); err != nil {
		return fmt.Errorf("failed to record stock discovery: %w", err)
	}

	rec.Quantity += shortfall
	util.StockDiscoveriesTotal.Inc()
	l.logger.Warn("Stock discovered during debit",
		zap.String("store_id", rec.StoreID),
		zap.String("product_id", rec.ProductID),
		zap.Int("shortfall", shortfall),
		zap.String("reference_id", referenceID))
	return nil
}

// Credit puts qty units back in stock without touching the average cost
func (l *InventoryLedger) Credit(ctx context.Context, tx store.Tx, storeID, productID string, qty int, referenceID string) error {
	rec, err := tx.GetInventoryForUpdate(ctx, storeID, productID, decimal.Zero)
	if err != nil {
		return err
	}

	rec.Quantity += qty
	rec.UpdatedAt = l.now()
	if err := tx.SaveInventory(ctx, rec); err != nil {
		return fmt.Errorf("failed to credit inventory: %w", err)
	}

	return tx.InsertInventoryAdjustment(ctx, &models.InventoryAdjustment{
		ID:          uuid.New().String(),
		StoreID:     storeID,
		ProductID:   productID,
		Delta:       qty,
		Reason:      models.AdjustmentRestock,
		ReferenceID: referenceID,
		CreatedAt:   rec.UpdatedAt,
	})
}

// RestoreCostLayer blends unitCost back into the weighted average for qty units that
// were just credited: avg = (prior*avg + qty*unitCost) / (prior+qty), prior being the
// quantity before the credit, clamped at zero.
func (l *InventoryLedger) RestoreCostLayer(ctx context.Context, tx store.Tx, storeID, productID string, qty int, unitCost decimal.Decimal) error {
	rec, err := tx.GetInventoryForUpdate(ctx, storeID, productID, unitCost)
	if err != nil {
		return err
	}

	rec.AverageCost = blendAverageCost(rec.Quantity-qty, rec.AverageCost, qty, unitCost)
	rec.UpdatedAt = l.now()
	if err := tx.SaveInventory(ctx, rec); err != nil {
		return fmt.Errorf("failed to restore cost layer: %w", err)
	}
	return nil
}

func blendAverageCost(priorQty int, avg decimal.Decimal, qty int, unitCost decimal.Decimal) decimal.Decimal {
	if priorQty < 0 {
		priorQty = 0
	}
	if priorQty+qty <= 0 {
		return avg
	}
	weighted := avg.Mul(decimal.NewFromInt(int64(priorQty))).Add(unitCost.Mul(decimal.NewFromInt(int64(qty))))
	return weighted.DivRound(decimal.NewFromInt(int64(priorQty+qty)), models.CostScale)
}

// Restock is Credit followed by RestoreCostLayer
func (l *InventoryLedger) Restock(ctx context.Context, tx store.Tx, storeID, productID string, qty int, unitCost decimal.Decimal, referenceID string) error {
	if err := l.Credit(ctx, tx, storeID, productID, qty, referenceID); err != nil {
		return err
	}
	return l.RestoreCostLayer(ctx, tx, storeID, productID, qty, unitCost)
}

// RecordLoss books discarded units at the cost they were sold at. Stock is untouched
// because the units already left inventory with the sale.
func (l *InventoryLedger) RecordLoss(ctx context.Context, tx store.Tx, storeID, productID string, qty int, unitCost decimal.Decimal, referenceID string) (*models.StockLoss, error) {
	loss := &models.StockLoss{
		ID:          uuid.New().String(),
		StoreID:     storeID,
		ProductID:   productID,
		Quantity:    qty,
		UnitCost:    unitCost,
		Amount:      models.RoundMoney(unitCost.Mul(decimal.NewFromInt(int64(qty)))),
		ReferenceID: referenceID,
		CreatedAt:   l.now(),
	}
	if err := tx.InsertStockLoss(ctx, loss); err != nil {
		return nil, fmt.Errorf("failed to record stock loss: %w", err)
	}
	return loss, nil
}

// Dispose restocks or discards returned units according to action
func (l *InventoryLedger) Dispose(ctx context.Context, tx store.Tx, action, storeID, productID string, qty int, unitCost decimal.Decimal, referenceID string) error {
	switch action {
	case models.RestockActionRestock:
		return l.Restock(ctx, tx, storeID, productID, qty, unitCost, referenceID)
	case models.RestockActionDiscard:
		_, err := l.RecordLoss(ctx, tx, storeID, productID, qty, unitCost, referenceID)
		return err
	default:
		return invalidPayload("unknown restock action %q", action)
	}
}

// Get returns the stock record of a product
func (l *InventoryLedger) Get(ctx context.Context, storeID, productID string) (*models.InventoryRecord, error) {
	rec, err := l.reader.GetInventory(ctx, storeID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newLedgerError(KindNotFound, "no inventory record").
			WithDetail("store_id", storeID).
			WithDetail("product_id", productID)
	}
	if err != nil {
		return nil, persistenceFailure("read inventory", err)
	}
	return rec, nil
}
