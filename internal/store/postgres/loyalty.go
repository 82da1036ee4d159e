package postgres

import (
	"context"

	"pos-ledger/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetLoyaltySettings retrieves the rate override of a store or an organization
func (q *queries) GetLoyaltySettings(ctx context.Context, scopeType, scopeID string) (*models.LoyaltySettings, error) {
	var settings models.LoyaltySettings
	err := sqlx.GetContext(ctx, q.ext, &settings,
		"SELECT * FROM loyalty_settings WHERE scope_type = $1 AND scope_id = $2", scopeType, scopeID)
	if err != nil {
		return nil, notFound(err)
	}
	return &settings, nil
}

// GetLoyaltyAccount retrieves an account without locking it
func (q *queries) GetLoyaltyAccount(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := sqlx.GetContext(ctx, q.ext, &account,
		"SELECT * FROM loyalty_accounts WHERE scope_id = $1 AND phone = $2", scopeID, phone)
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// GetLoyaltyAccountForUpdate retrieves and locks an account
func (q *queries) GetLoyaltyAccountForUpdate(ctx context.Context, scopeID, phone string) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := sqlx.GetContext(ctx, q.ext, &account,
		"SELECT * FROM loyalty_accounts WHERE scope_id = $1 AND phone = $2 FOR UPDATE", scopeID, phone)
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// EnsureLoyaltyAccount creates an account unless the phone is already enrolled in the scope
func (q *queries) EnsureLoyaltyAccount(ctx context.Context, account *models.LoyaltyAccount) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO loyalty_accounts (id, scope_id, phone, balance, lifetime_points, active, created_at, updated_at)
		VALUES (:id, :scope_id, :phone, :balance, :lifetime_points, :active, :created_at, :updated_at)
		ON CONFLICT (scope_id, phone) DO NOTHING`, account)
	return err
}

// UpdateLoyaltyAccount writes balance and lifetime points back
func (q *queries) UpdateLoyaltyAccount(ctx context.Context, account *models.LoyaltyAccount) error {
	_, err := q.ext.ExecContext(ctx,
		"UPDATE loyalty_accounts SET balance = $1, lifetime_points = $2, active = $3, updated_at = $4 WHERE id = $5",
		account.Balance, account.LifetimePoints, account.Active, account.UpdatedAt, account.ID)
	return err
}

// InsertLoyaltyTransaction appends to the loyalty audit log
func (q *queries) InsertLoyaltyTransaction(ctx context.Context, entry *models.LoyaltyTransaction) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO loyalty_transactions (id, account_id, delta, reason, reference_id, created_at)
		VALUES (:id, :account_id, :delta, :reason, :reference_id, :created_at)`, entry)
	return err
}
