package memory

import (
	"context"
	"errors"
	"testing"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxDiscardsStateOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryForUpdate(ctx, "store-001", "SKU-MUG-CLASSIC", decimal.Zero)
		require.NoError(t, err)
		rec.Quantity = 0
		require.NoError(t, tx.SaveInventory(ctx, rec))
		require.NoError(t, tx.InsertSale(ctx, &models.Sale{ID: "s-1", StoreID: "store-001", IdempotencyKey: "k-1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.GetInventory(ctx, "store-001", "SKU-MUG-CLASSIC")
	require.NoError(t, err)
	assert.Equal(t, 50, rec.Quantity)

	_, err = s.GetSaleByID(ctx, "s-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertSaleRejectsDuplicateKey(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	insert := func(id string) error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertSale(ctx, &models.Sale{ID: id, StoreID: "store-1", IdempotencyKey: "dup"})
		})
	}

	require.NoError(t, insert("s-1"))
	assert.ErrorIs(t, insert("s-2"), store.ErrDuplicateKey)

	sale, err := s.GetSaleByIdempotencyKey(ctx, "store-1", "dup")
	require.NoError(t, err)
	assert.Equal(t, "s-1", sale.ID)

	// keys are scoped per store
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertSale(ctx, &models.Sale{ID: "s-3", StoreID: "store-2", IdempotencyKey: "dup"})
	}))
}

func TestGetInventoryForUpdateCreatesRecord(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	cost := decimal.RequireFromString("3.20")
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetInventoryForUpdate(ctx, "store-1", "p-1", cost)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Quantity)
		assert.True(t, cost.Equal(rec.AverageCost))
		return nil
	}))

	rec, err := s.GetInventory(ctx, "store-1", "p-1")
	require.NoError(t, err)
	assert.True(t, cost.Equal(rec.AverageCost))
}

func TestConsumedQuantitiesSeparatesSwaps(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for i, key := range []string{"r-a", "r-b"} {
		ret := &models.Return{
			ID:             key,
			SaleID:         "sale-1",
			StoreID:        "store-1",
			RefundType:     models.RefundTypePartial,
			IdempotencyKey: key,
			Items: []models.ReturnItem{
				{ID: key + "-1", SaleItemID: "item-1", Quantity: i + 1},
				{ID: key + "-2", SaleItemID: "item-2", Quantity: 1},
			},
		}
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReturn(ctx, ret) }))
	}
	audit := &models.Return{
		ID:         "sw-ret",
		SaleID:     "sale-1",
		StoreID:    "store-1",
		RefundType: models.RefundTypeSwap,
		SwapID:     "sw-1",
		Items:      []models.ReturnItem{{ID: "sw-ret-1", SaleItemID: "item-2", Quantity: 1}},
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReturn(ctx, audit) }))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		consumed, err := tx.ConsumedQuantities(ctx, "sale-1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"item-1": 3, "item-2": 2}, consumed.Returned)
		assert.Equal(t, map[string]int{"item-2": 1}, consumed.Swapped)
		assert.Equal(t, 0, consumed.Remaining(models.SaleItem{ID: "item-2", Quantity: 3}))
		return nil
	}))
}

func TestSwapAuditReturnsStayOutOfClientKeys(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for _, id := range []string{"sw-ret-1", "sw-ret-2"} {
		audit := &models.Return{ID: id, SaleID: "sale-1", StoreID: "store-1", RefundType: models.RefundTypeSwap, SwapID: id}
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReturn(ctx, audit) }))
	}

	_, err := s.GetReturnByIdempotencyKey(ctx, "store-1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	client := &models.Return{ID: "r-1", SaleID: "sale-1", StoreID: "store-1", RefundType: models.RefundTypeFull, IdempotencyKey: "k"}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReturn(ctx, client) }))
	again := &models.Return{ID: "r-2", SaleID: "sale-1", StoreID: "store-1", RefundType: models.RefundTypeFull, IdempotencyKey: "k"}
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertReturn(ctx, again) })
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestMirrorLinesAreIsolatedBetweenSnapshots(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	mirror := &models.MirrorTransaction{
		ID:     "m-1",
		SaleID: "sale-1",
		Kind:   models.MirrorKindSale,
		Lines:  []models.MirrorLine{{ID: "l-1", MirrorID: "m-1", ProductID: "p-1", Quantity: 2}},
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertMirror(ctx, mirror) }))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		line := models.MirrorLine{ID: "l-1", MirrorID: "m-1", ProductID: "p-2", Quantity: 2}
		require.NoError(t, tx.UpdateMirrorLine(ctx, &line))
		return errors.New("rollback")
	})
	require.Error(t, err)

	mirrors := s.Mirrors("sale-1")
	require.Len(t, mirrors, 1)
	assert.Equal(t, "p-1", mirrors[0].Lines[0].ProductID)

	// a second SALE mirror for the same sale is a duplicate
	dup := &models.MirrorTransaction{ID: "m-2", SaleID: "sale-1", Kind: models.MirrorKindSale}
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertMirror(ctx, dup) })
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestLoyaltyAccountCannotGoNegative(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.SeedLoyaltyAccount(models.LoyaltyAccount{ID: "a-1", ScopeID: "org-1", Phone: "+15550001", Balance: 10, Active: true})

	err := s.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.GetLoyaltyAccountForUpdate(ctx, "org-1", "+15550001")
		require.NoError(t, err)
		account.Balance = -1
		return tx.UpdateLoyaltyAccount(ctx, account)
	})
	require.Error(t, err)

	account, err := s.GetLoyaltyAccount(ctx, "org-1", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Balance)
}
