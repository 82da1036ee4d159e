package postgres

import (
	"context"
	"fmt"

	"pos-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type saleRow struct {
	models.Sale
	PaymentMethod   string                `db:"payment_method"`
	WalletReference string                `db:"wallet_reference"`
	SplitBreakdown  models.SplitBreakdown `db:"split_breakdown"`
}

func (r saleRow) toSale() *models.Sale {
	sale := r.Sale
	sale.Payment = models.Payment{Method: r.PaymentMethod}
	if r.WalletReference != "" {
		sale.Payment.Digital = &models.DigitalPayment{WalletReference: r.WalletReference}
	}
	if len(r.SplitBreakdown) > 0 {
		sale.Payment.Split = &models.SplitPayment{Portions: []models.SplitPortion(r.SplitBreakdown)}
	}
	return &sale
}

// GetSaleByID retrieves a sale with its items
func (q *queries) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	return q.getSale(ctx, "SELECT * FROM sales WHERE id = $1", id)
}

// GetSaleForUpdate retrieves and locks a sale with its items
func (q *queries) GetSaleForUpdate(ctx context.Context, id string) (*models.Sale, error) {
	return q.getSale(ctx, "SELECT * FROM sales WHERE id = $1 FOR UPDATE", id)
}

// GetSaleByIdempotencyKey retrieves a sale by its store-scoped idempotency key
func (q *queries) GetSaleByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Sale, error) {
	return q.getSale(ctx, "SELECT * FROM sales WHERE store_id = $1 AND idempotency_key = $2", storeID, key)
}

func (q *queries) getSale(ctx context.Context, query string, args ...interface{}) (*models.Sale, error) {
	var row saleRow
	if err := sqlx.GetContext(ctx, q.ext, &row, query, args...); err != nil {
		return nil, notFound(err)
	}
	sale := row.toSale()

	if err := sqlx.SelectContext(ctx, q.ext, &sale.Items,
		"SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY id", sale.ID); err != nil {
		return nil, fmt.Errorf("failed to load sale items: %w", err)
	}
	return sale, nil
}

// InsertSale inserts a sale header and its items
func (q *queries) InsertSale(ctx context.Context, sale *models.Sale) error {
	var split models.SplitBreakdown
	if sale.Payment.Split != nil {
		split = sale.Payment.Split.Portions
	}

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, cashier_id, customer_phone, subtotal, discount, loyalty_discount,
			redeemed_points, earned_points, tax, total, currency, payment_method,
			wallet_reference, split_breakdown, idempotency_key, status, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		sale.ID, sale.StoreID, sale.CashierID, sale.CustomerPhone, sale.Subtotal, sale.Discount,
		sale.LoyaltyDiscount, sale.RedeemedPoints, sale.EarnedPoints, sale.Tax, sale.Total,
		sale.Currency, sale.Payment.Method, sale.Payment.WalletReference(), split,
		sale.IdempotencyKey, sale.Status, sale.OccurredAt)
	if err != nil {
		return duplicate(err)
	}

	for i := range sale.Items {
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price, line_discount, line_total)
			VALUES (:id, :sale_id, :product_id, :quantity, :unit_price, :line_discount, :line_total)`,
			&sale.Items[i])
		if err != nil {
			return fmt.Errorf("failed to insert sale item: %w", err)
		}
	}
	return nil
}

// UpdateSaleStatus updates sale status
func (q *queries) UpdateSaleStatus(ctx context.Context, id, status string) error {
	_, err := q.ext.ExecContext(ctx, "UPDATE sales SET status = $1 WHERE id = $2", status, id)
	return err
}

// UpdateSaleTotals rewrites the aggregate amounts of a sale
func (q *queries) UpdateSaleTotals(ctx context.Context, id string, subtotal, tax, total decimal.Decimal) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE sales SET subtotal = $1, tax = $2, total = $3 WHERE id = $4",
		subtotal, tax, total, id)
	return err
}

// GetReturnByIdempotencyKey retrieves a return with its items
func (q *queries) GetReturnByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Return, error) {
	var ret models.Return
	err := sqlx.GetContext(ctx, q.ext, &ret,
		"SELECT * FROM returns WHERE store_id = $1 AND idempotency_key = $2 AND refund_type <> 'SWAP'", storeID, key)
	if err != nil {
		return nil, notFound(err)
	}
	if err := sqlx.SelectContext(ctx, q.ext, &ret.Items,
		"SELECT * FROM return_items WHERE return_id = $1 ORDER BY id", ret.ID); err != nil {
		return nil, fmt.Errorf("failed to load return items: %w", err)
	}
	return &ret, nil
}

// ConsumedQuantities sums returned and swapped quantity per sale item over the sale's whole history
func (q *queries) ConsumedQuantities(ctx context.Context, saleID string) (models.ConsumedQuantities, error) {
	var rows []struct {
		SaleItemID string `db:"sale_item_id"`
		Swapped    bool   `db:"swapped"`
		Quantity   int    `db:"quantity"`
	}
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT ri.sale_item_id, r.refund_type = 'SWAP' AS swapped, COALESCE(SUM(ri.quantity), 0) AS quantity
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.sale_id = $1
		GROUP BY ri.sale_item_id, swapped`, saleID)
	if err != nil {
		return models.ConsumedQuantities{}, err
	}

	consumed := models.NewConsumedQuantities()
	for _, row := range rows {
		if row.Swapped {
			consumed.Swapped[row.SaleItemID] = row.Quantity
			continue
		}
		consumed.Returned[row.SaleItemID] = row.Quantity
	}
	return consumed, nil
}

// InsertReturn inserts a return header and its items
func (q *queries) InsertReturn(ctx context.Context, ret *models.Return) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO returns (id, sale_id, store_id, reason, processed_by, refund_type, total_refund,
			total_tax_refund, currency, idempotency_key, swap_id, created_at)
		VALUES (:id, :sale_id, :store_id, :reason, :processed_by, :refund_type, :total_refund,
			:total_tax_refund, :currency, :idempotency_key, :swap_id, :created_at)`, ret)
	if err != nil {
		return duplicate(err)
	}

	for i := range ret.Items {
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO return_items (id, return_id, sale_item_id, product_id, quantity, restock_action,
				refund_type, refund_amount, tax_refund_amount, notes)
			VALUES (:id, :return_id, :sale_item_id, :product_id, :quantity, :restock_action,
				:refund_type, :refund_amount, :tax_refund_amount, :notes)`, &ret.Items[i])
		if err != nil {
			return fmt.Errorf("failed to insert return item: %w", err)
		}
	}
	return nil
}

// GetSwapByIdempotencyKey retrieves a swap with its replacement lines
func (q *queries) GetSwapByIdempotencyKey(ctx context.Context, storeID, key string) (*models.Swap, error) {
	var swap models.Swap
	err := sqlx.GetContext(ctx, q.ext, &swap,
		"SELECT * FROM swaps WHERE store_id = $1 AND idempotency_key = $2", storeID, key)
	if err != nil {
		return nil, notFound(err)
	}
	if err := sqlx.SelectContext(ctx, q.ext, &swap.Lines,
		"SELECT * FROM swap_lines WHERE swap_id = $1 ORDER BY id", swap.ID); err != nil {
		return nil, fmt.Errorf("failed to load swap lines: %w", err)
	}
	return &swap, nil
}

// InsertSwap inserts a swap and its replacement lines
func (q *queries) InsertSwap(ctx context.Context, swap *models.Swap) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO swaps (id, store_id, sale_id, return_id, sale_item_id, original_product_id,
			original_quantity, restock_action, price_difference, tax_difference, total_difference,
			cash_mirror_id, idempotency_key, created_at)
		VALUES (:id, :store_id, :sale_id, :return_id, :sale_item_id, :original_product_id,
			:original_quantity, :restock_action, :price_difference, :tax_difference, :total_difference,
			:cash_mirror_id, :idempotency_key, :created_at)`, swap)
	if err != nil {
		return duplicate(err)
	}

	for i := range swap.Lines {
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO swap_lines (id, swap_id, product_id, quantity, unit_price, unit_cost)
			VALUES (:id, :swap_id, :product_id, :quantity, :unit_price, :unit_cost)`, &swap.Lines[i])
		if err != nil {
			return fmt.Errorf("failed to insert swap line: %w", err)
		}
	}
	return nil
}
