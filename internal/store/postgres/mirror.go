package postgres

import (
	"context"
	"fmt"

	"pos-ledger/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertMirror inserts a mirror transaction and its lines
func (q *queries) InsertMirror(ctx context.Context, mirror *models.MirrorTransaction) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO mirror_transactions (id, store_id, sale_id, kind, parent_id, subtotal, discount,
			tax_amount, total, currency, created_at)
		VALUES (:id, :store_id, :sale_id, :kind, :parent_id, :subtotal, :discount,
			:tax_amount, :total, :currency, :created_at)`, mirror)
	if err != nil {
		return duplicate(err)
	}

	for i := range mirror.Lines {
		if err := q.InsertMirrorLine(ctx, &mirror.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetSaleMirrorForUpdate retrieves and locks the SALE mirror of a sale
func (q *queries) GetSaleMirrorForUpdate(ctx context.Context, saleID string) (*models.MirrorTransaction, error) {
	var mirror models.MirrorTransaction
	err := sqlx.GetContext(ctx, q.ext, &mirror,
		"SELECT * FROM mirror_transactions WHERE sale_id = $1 AND kind = $2 FOR UPDATE",
		saleID, models.MirrorKindSale)
	if err != nil {
		return nil, notFound(err)
	}

	if err := sqlx.SelectContext(ctx, q.ext, &mirror.Lines,
		"SELECT * FROM mirror_lines WHERE mirror_id = $1 ORDER BY id FOR UPDATE", mirror.ID); err != nil {
		return nil, fmt.Errorf("failed to load mirror lines: %w", err)
	}
	return &mirror, nil
}

// UpdateMirrorTotals rewrites the aggregate amounts of a mirror transaction
func (q *queries) UpdateMirrorTotals(ctx context.Context, mirror *models.MirrorTransaction) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE mirror_transactions SET subtotal = $1, discount = $2, tax_amount = $3, total = $4 WHERE id = $5",
		mirror.Subtotal, mirror.Discount, mirror.TaxAmount, mirror.Total, mirror.ID)
	return err
}

// InsertMirrorLine appends a line to a mirror transaction
func (q *queries) InsertMirrorLine(ctx context.Context, line *models.MirrorLine) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO mirror_lines (id, mirror_id, sale_item_id, product_id, quantity, unit_price,
			line_total, unit_cost, total_cost)
		VALUES (:id, :mirror_id, :sale_item_id, :product_id, :quantity, :unit_price,
			:line_total, :unit_cost, :total_cost)`, line)
	return err
}

// UpdateMirrorLine overwrites a mirror line in place
func (q *queries) UpdateMirrorLine(ctx context.Context, line *models.MirrorLine) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE mirror_lines SET product_id = :product_id, quantity = :quantity, unit_price = :unit_price,
			line_total = :line_total, unit_cost = :unit_cost, total_cost = :total_cost
		WHERE id = :id`, line)
	return err
}
