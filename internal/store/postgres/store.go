package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Store is the Postgres ledger backend
type Store struct {
	db *sqlx.DB
	queries
}

// queries runs every statement against either the pool or an open transaction
type queries struct {
	ext sqlx.ExtContext
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, queries: queries{ext: db}}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a read-committed transaction; rows touched by the
// ledger are locked with FOR UPDATE so concurrent operations serialize on them.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetStore retrieves a store by ID
func (q *queries) GetStore(ctx context.Context, storeID string) (*models.Store, error) {
	var st models.Store
	err := sqlx.GetContext(ctx, q.ext, &st, "SELECT id, org_id, currency FROM stores WHERE id = $1", storeID)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// GetProductsByIDs retrieves multiple products keyed by ID
func (q *queries) GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	products := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = q.ext.Rebind(query)

	var rows []models.Product
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, p := range rows {
		products[p.ID] = p
	}
	return products, nil
}

// GetInventory retrieves the stock record of a product without locking it
func (q *queries) GetInventory(ctx context.Context, storeID, productID string) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	err := sqlx.GetContext(ctx, q.ext, &rec,
		"SELECT * FROM inventory WHERE store_id = $1 AND product_id = $2", storeID, productID)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// GetInventoryForUpdate locks the stock record, creating it on first reference
func (q *queries) GetInventoryForUpdate(ctx context.Context, storeID, productID string, initialCost decimal.Decimal) (*models.InventoryRecord, error) {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO inventory (store_id, product_id, quantity, average_cost, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		ON CONFLICT (store_id, product_id) DO NOTHING`,
		storeID, productID, initialCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise inventory: %w", err)
	}

	var rec models.InventoryRecord
	err = sqlx.GetContext(ctx, q.ext, &rec,
		"SELECT * FROM inventory WHERE store_id = $1 AND product_id = $2 FOR UPDATE", storeID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	return &rec, nil
}

// SaveInventory writes quantity and average cost back
func (q *queries) SaveInventory(ctx context.Context, rec *models.InventoryRecord) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE inventory SET quantity = $1, average_cost = $2, updated_at = $3 WHERE store_id = $4 AND product_id = $5",
		rec.Quantity, rec.AverageCost, rec.UpdatedAt, rec.StoreID, rec.ProductID)
	return err
}

// InsertInventoryAdjustment appends to the adjustment log
func (q *queries) InsertInventoryAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO inventory_adjustments (id, store_id, product_id, delta, reason, reference_id, note, created_at)
		VALUES (:id, :store_id, :product_id, :delta, :reason, :reference_id, :note, :created_at)`, adj)
	return err
}

// InsertStockLoss appends to the loss log
func (q *queries) InsertStockLoss(ctx context.Context, loss *models.StockLoss) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO stock_losses (id, store_id, product_id, quantity, unit_cost, amount, reference_id, created_at)
		VALUES (:id, :store_id, :product_id, :quantity, :unit_cost, :amount, :reference_id, :created_at)`, loss)
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func duplicate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
