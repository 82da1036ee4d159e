package memory

import (
	"context"
	"fmt"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"

	"github.com/shopspring/decimal"
)

// view implements store.Tx over one state snapshot
type view struct {
	st *state
}

func (v *view) GetStore(_ context.Context, storeID string) (*models.Store, error) {
	st, ok := v.st.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (v *view) GetProductsByIDs(_ context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := v.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (v *view) GetSaleByID(_ context.Context, id string) (*models.Sale, error) {
	sale, ok := v.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Items = append([]models.SaleItem(nil), sale.Items...)
	return &sale, nil
}

func (v *view) GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error) {
	return v.GetSaleByID(ctx, id)
}

func (v *view) GetSaleByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Sale, error) {
	id, ok := v.st.saleByKey[compositeKey(storeID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.GetSaleByID(ctx, id)
}

func (v *view) InsertSale(_ context.Context, sale *models.Sale) error {
	k := compositeKey(sale.StoreID, sale.IdempotencyKey)
	if _, exists := v.st.saleByKey[k]; exists {
		return fmt.Errorf("%w: sales_store_id_idempotency_key_key", store.ErrDuplicateKey)
	}
	stored := *sale
	stored.Items = append([]models.SaleItem(nil), sale.Items...)
	v.st.sales[sale.ID] = stored
	v.st.saleByKey[k] = sale.ID
	return nil
}

func (v *view) UpdateSaleStatus(_ context.Context, id, status string) error {
	sale, ok := v.st.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	sale.Status = status
	v.st.sales[id] = sale
	return nil
}

func (v *view) UpdateSaleTotals(_ context.Context, id string, subtotal, tax, total decimal.Decimal) error {
	sale, ok := v.st.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	sale.Subtotal, sale.Tax, sale.Total = subtotal, tax, total
	v.st.sales[id] = sale
	return nil
}

func (v *view) GetInventory(_ context.Context, storeID, productID string) (*models.InventoryRecord, error) {
	rec, ok := v.st.inventory[inventoryKey(storeID, productID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (v *view) GetInventoryForUpdate(_ context.Context, storeID, productID string, initialCost decimal.Decimal) (*models.InventoryRecord, error) {
	k := inventoryKey(storeID, productID)
	rec, ok := v.st.inventory[k]
	if !ok {
		rec = models.InventoryRecord{
			StoreID:     storeID,
			ProductID:   productID,
			AverageCost: initialCost,
			UpdatedAt:   time.Now().UTC(),
		}
		v.st.inventory[k] = rec
	}
	return &rec, nil
}

func (v *view) SaveInventory(_ context.Context, rec *models.InventoryRecord) error {
	v.st.inventory[inventoryKey(rec.StoreID, rec.ProductID)] = *rec
	return nil
}

func (v *view) InsertInventoryAdjustment(_ context.Context, adj *models.InventoryAdjustment) error {
	v.st.adjustments = append(v.st.adjustments, *adj)
	return nil
}

func (v *view) InsertStockLoss(_ context.Context, loss *models.StockLoss) error {
	v.st.losses = append(v.st.losses, *loss)
	return nil
}

func (v *view) GetLoyaltySettings(_ context.Context, scopeType, scopeID string) (*models.LoyaltySettings, error) {
	settings, ok := v.st.settings[compositeKey(scopeType, scopeID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (v *view) GetLoyaltyAccount(_ context.Context, scopeID, phone string) (*models.LoyaltyAccount, error) {
	id, ok := v.st.accountByKey[compositeKey(scopeID, phone)]
	if !ok {
		return nil, store.ErrNotFound
	}
	account := v.st.accounts[id]
	return &account, nil
}

func (v *view) GetLoyaltyAccountForUpdate(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error) {
	return v.GetLoyaltyAccount(ctx, scopeID, phone)
}

func (v *view) EnsureLoyaltyAccount(_ context.Context, account *models.LoyaltyAccount) error {
	k := compositeKey(account.ScopeID, account.Phone)
	if _, exists := v.st.accountByKey[k]; exists {
		return nil
	}
	v.st.accounts[account.ID] = *account
	v.st.accountByKey[k] = account.ID
	return nil
}

func (v *view) UpdateLoyaltyAccount(_ context.Context, account *models.LoyaltyAccount) error {
	if _, ok := v.st.accounts[account.ID]; !ok {
		return store.ErrNotFound
	}
	if account.Balance < 0 {
		return fmt.Errorf("loyalty balance of account %s would become negative", account.ID)
	}
	v.st.accounts[account.ID] = *account
	return nil
}

func (v *view) InsertLoyaltyTransaction(_ context.Context, entry *models.LoyaltyTransaction) error {
	v.st.loyaltyLog = append(v.st.loyaltyLog, *entry)
	return nil
}

func (v *view) InsertMirror(_ context.Context, mirror *models.MirrorTransaction) error {
	if mirror.Kind == models.MirrorKindSale {
		if _, exists := v.st.saleMirror[mirror.SaleID]; exists {
			return fmt.Errorf("%w: mirror_transactions_sale_unique", store.ErrDuplicateKey)
		}
		v.st.saleMirror[mirror.SaleID] = mirror.ID
	}
	stored := *mirror
	stored.Lines = append([]models.MirrorLine(nil), mirror.Lines...)
	v.st.mirrors[mirror.ID] = stored
	return nil
}

func (v *view) GetSaleMirrorForUpdate(_ context.Context, saleID string) (*models.MirrorTransaction, error) {
	id, ok := v.st.saleMirror[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	mirror := v.st.mirrors[id]
	mirror.Lines = append([]models.MirrorLine(nil), mirror.Lines...)
	return &mirror, nil
}

func (v *view) UpdateMirrorTotals(_ context.Context, mirror *models.MirrorTransaction) error {
	stored, ok := v.st.mirrors[mirror.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.Subtotal = mirror.Subtotal
	stored.Discount = mirror.Discount
	stored.TaxAmount = mirror.TaxAmount
	stored.Total = mirror.Total
	v.st.mirrors[mirror.ID] = stored
	return nil
}

func (v *view) InsertMirrorLine(_ context.Context, line *models.MirrorLine) error {
	stored, ok := v.st.mirrors[line.MirrorID]
	if !ok {
		return store.ErrNotFound
	}
	lines := make([]models.MirrorLine, 0, len(stored.Lines)+1)
	stored.Lines = append(append(lines, stored.Lines...), *line)
	v.st.mirrors[line.MirrorID] = stored
	return nil
}

func (v *view) UpdateMirrorLine(_ context.Context, line *models.MirrorLine) error {
	stored, ok := v.st.mirrors[line.MirrorID]
	if !ok {
		return store.ErrNotFound
	}
	lines := append([]models.MirrorLine(nil), stored.Lines...)
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = *line
			stored.Lines = lines
			v.st.mirrors[line.MirrorID] = stored
			return nil
		}
	}
	return store.ErrNotFound
}

func (v *view) ConsumedQuantities(_ context.Context, saleID string) (models.ConsumedQuantities, error) {
	consumed := models.NewConsumedQuantities()
	for _, ret := range v.st.returns {
		if ret.SaleID != saleID {
			continue
		}
		into := consumed.Returned
		if ret.RefundType == models.RefundTypeSwap {
			into = consumed.Swapped
		}
		for _, item := range ret.Items {
			into[item.SaleItemID] += item.Quantity
		}
	}
	return consumed, nil
}

func (v *view) GetReturnByIdempotencyKey(_ context.Context, storeID, key string) (*models.Return, error) {
	id, ok := v.st.returnByKey[compositeKey(storeID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	ret := v.st.returns[id]
	ret.Items = append([]models.ReturnItem(nil), ret.Items...)
	return &ret, nil
}

func (v *view) InsertReturn(_ context.Context, ret *models.Return) error {
	stored := *ret
	stored.Items = append([]models.ReturnItem(nil), ret.Items...)
	if ret.RefundType == models.RefundTypeSwap {
		v.st.returns[ret.ID] = stored
		return nil
	}

	k := compositeKey(ret.StoreID, ret.IdempotencyKey)
	if _, exists := v.st.returnByKey[k]; exists {
		return fmt.Errorf("%w: returns_client_idempotency_key", store.ErrDuplicateKey)
	}
	v.st.returns[ret.ID] = stored
	v.st.returnByKey[k] = ret.ID
	return nil
}

func (v *view) GetSwapByIdempotencyKey(_ context.Context, storeID, key string) (*models.Swap, error) {
	id, ok := v.st.swapByKey[compositeKey(storeID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	swap := v.st.swaps[id]
	swap.Lines = append([]models.SwapLine(nil), swap.Lines...)
	return &swap, nil
}

func (v *view) InsertSwap(_ context.Context, swap *models.Swap) error {
	k := compositeKey(swap.StoreID, swap.IdempotencyKey)
	if _, exists := v.st.swapByKey[k]; exists {
		return fmt.Errorf("%w: swaps_store_id_idempotency_key_key", store.ErrDuplicateKey)
	}
	stored := *swap
	stored.Lines = append([]models.SwapLine(nil), swap.Lines...)
	v.st.swaps[swap.ID] = stored
	v.st.swapByKey[k] = swap.ID
	return nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*view)(nil)
)
