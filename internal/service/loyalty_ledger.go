package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Where a set of loyalty rates came from
const (
	RateSourceStore    = "store"
	RateSourceOrg      = "org"
	RateSourceFallback = "fallback"
)

// LoyaltyRates are the earn and redeem rates in force for one request
type LoyaltyRates struct {
	// EarnRate is points per currency unit of spend
	EarnRate decimal.Decimal
	// RedeemValue is currency units per redeemed point
	RedeemValue decimal.Decimal
	Source      string
}

// RedemptionDiscount is the money value of redeeming points
func (r LoyaltyRates) RedemptionDiscount(points int64) decimal.Decimal {
	return models.RoundMoney(decimal.NewFromInt(points).Mul(r.RedeemValue))
}

// EarnedPoints is floor(max(0, spendBase) × EarnRate)
func (r LoyaltyRates) EarnedPoints(spendBase decimal.Decimal) int64 {
	return models.MaxZero(spendBase).Mul(r.EarnRate).Floor().IntPart()
}

// LoyaltyLedger keeps customer point balances and their audit log
type LoyaltyLedger struct {
	reader   store.Reader
	fallback LoyaltyRates
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoyaltyLedger creates a new loyalty ledger
func NewLoyaltyLedger(reader store.Reader, cfg config.LoyaltyConfig) *LoyaltyLedger {
	return &LoyaltyLedger{
		reader: reader,
		fallback: LoyaltyRates{
			EarnRate:    cfg.EarnRate,
			RedeemValue: cfg.RedeemValue,
			Source:      RateSourceFallback,
		},
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveRates picks the store override, else the organization default, else the configured fallback
func (l *LoyaltyLedger) ResolveRates(ctx context.Context, tx store.Tx, st *models.Store) (LoyaltyRates, error) {
	settings, err := tx.GetLoyaltySettings(ctx, models.LoyaltyScopeStore, st.ID)
	if err == nil {
		return LoyaltyRates{EarnRate: settings.EarnRate, RedeemValue: settings.RedeemValue, Source: RateSourceStore}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return LoyaltyRates{}, fmt.Errorf("failed to read store loyalty settings: %w", err)
	}

	if st.OrgID != "" {
		settings, err = tx.GetLoyaltySettings(ctx, models.LoyaltyScopeOrg, st.OrgID)
		if err == nil {
			return LoyaltyRates{EarnRate: settings.EarnRate, RedeemValue: settings.RedeemValue, Source: RateSourceOrg}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return LoyaltyRates{}, fmt.Errorf("failed to read org loyalty settings: %w", err)
		}
	}

	return l.fallback, nil
}

// Account locks the customer's account in scopeID, enrolling the phone when create is set.
// It returns nil without error when the account does not exist and create is false.
func (l *LoyaltyLedger) Account(ctx context.Context, tx store.Tx, scopeID, phone string, create bool) (*models.LoyaltyAccount, error) {
	account, err := tx.GetLoyaltyAccountForUpdate(ctx, scopeID, phone)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to lock loyalty account: %w", err)
	}
	if !create {
		return nil, nil
	}

	now := l.now()
	if err := tx.EnsureLoyaltyAccount(ctx, &models.LoyaltyAccount{
		ID:        uuid.New().String(),
		ScopeID:   scopeID,
		Phone:     phone,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to enroll loyalty account: %w", err)
	}

	account, err = tx.GetLoyaltyAccountForUpdate(ctx, scopeID, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to lock loyalty account: %w", err)
	}
	return account, nil
}

// Redeem takes points off the balance. It fails before any write when the balance is short.
func (l *LoyaltyLedger) Redeem(ctx context.Context, tx store.Tx, account *models.LoyaltyAccount, points int64, referenceID string) error {
	if points <= 0 {
		return nil
	}
	if account == nil || account.Balance < points {
		var balance int64
		if account != nil {
			balance = account.Balance
		}
		return newLedgerError(KindInsufficientLoyaltyPoints, "insufficient loyalty points").
			WithDetail("requested", fmt.Sprint(points)).
			WithDetail("balance", fmt.Sprint(balance))
	}

	account.Balance -= points
	if err := l.apply(ctx, tx, account, -points, models.LoyaltyReasonRedeem, referenceID); err != nil {
		return err
	}
	util.LoyaltyPointsTotal.WithLabelValues(models.LoyaltyReasonRedeem).Add(float64(points))
	return nil
}

// Earn adds points to the balance and to lifetime points
func (l *LoyaltyLedger) Earn(ctx context.Context, tx store.Tx, account *models.LoyaltyAccount, points int64, referenceID string) error {
	if points <= 0 {
		return nil
	}

	account.Balance += points
	account.LifetimePoints += points
	if err := l.apply(ctx, tx, account, points, models.LoyaltyReasonEarn, referenceID); err != nil {
		return err
	}
	util.LoyaltyPointsTotal.WithLabelValues(models.LoyaltyReasonEarn).Add(float64(points))
	return nil
}

func (l *LoyaltyLedger) apply(ctx context.Context, tx store.Tx, account *models.LoyaltyAccount, delta int64, reason, referenceID string) error {
	account.UpdatedAt = l.now()
	if err := tx.UpdateLoyaltyAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update loyalty account: %w", err)
	}

	entry := &models.LoyaltyTransaction{
		ID:          uuid.New().String(),
		AccountID:   account.ID,
		Delta:       delta,
		Reason:      reason,
		ReferenceID: referenceID,
		CreatedAt:   account.UpdatedAt,
	}
	if err := tx.InsertLoyaltyTransaction(ctx, entry); err != nil {
		return fmt.Errorf("failed to record loyalty transaction: %w", err)
	}
	return nil
}

// GetAccount returns the account a phone holds in the store's loyalty scope
func (l *LoyaltyLedger) GetAccount(ctx context.Context, storeID, phone string) (*models.LoyaltyAccount, error) {
	st, err := l.reader.GetStore(ctx, storeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newLedgerError(KindNotFound, "unknown store").WithDetail("store_id", storeID)
	}
	if err != nil {
		return nil, persistenceFailure("read store", err)
	}

	account, err := l.reader.GetLoyaltyAccount(ctx, st.LoyaltyScope(), phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newLedgerError(KindNotFound, "no loyalty account").WithDetail("phone", phone)
	}
	if err != nil {
		return nil, persistenceFailure("read loyalty account", err)
	}
	return account, nil
}
