package service

import (
	"testing"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlendAverageCost(t *testing.T) {
	tests := []struct {
		name     string
		priorQty int
		avg      string
		qty      int
		unitCost string
		want     string
	}{
		{"same cost", 18, "4.00", 2, "4.00", "4"},
		{"cheaper units pull down", 10, "5.00", 2, "2.00", "4.5"},
		{"dearer units pull up", 10, "5.00", 2, "8.00", "5.5"},
		{"negative prior clamps to zero", -3, "5.00", 2, "8.00", "8"},
		{"empty shelf takes unit cost", 0, "5.00", 1, "6.25", "6.25"},
		{"repeating fraction", 2, "1.00", 1, "2.00", "1.3333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := blendAverageCost(tt.priorQty, dec(tt.avg), tt.qty, dec(tt.unitCost))
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestInventoryRestockRestoresCostLayer(t *testing.T) {
	f := newFixture(t)
	f.store.SeedInventory(models.InventoryRecord{StoreID: testStore, ProductID: widgetID, Quantity: 10, AverageCost: dec("5.00")})

	err := f.store.WithTx(f.ctx, func(tx store.Tx) error {
		return f.inventory.Restock(f.ctx, tx, testStore, widgetID, 2, dec("8.00"), "ret-1")
	})
	require.NoError(t, err)

	rec, err := f.inventory.Get(f.ctx, testStore, widgetID)
	require.NoError(t, err)
	assert.Equal(t, 12, rec.Quantity)
	assert.True(t, dec("5.5").Equal(rec.AverageCost), "got %s", rec.AverageCost)

	adjustments := f.store.Adjustments()
	require.Len(t, adjustments, 1)
	assert.Equal(t, models.AdjustmentRestock, adjustments[0].Reason)
	assert.Equal(t, 2, adjustments[0].Delta)
}

func TestInventoryDebitReturnsCostBeforeDebit(t *testing.T) {
	f := newFixture(t)
	product := models.Product{ID: "fresh", CostPrice: dec("2.40")}

	var unitCost decimal.Decimal
	err := f.store.WithTx(f.ctx, func(tx store.Tx) error {
		var err error
		unitCost, err = f.inventory.Debit(f.ctx, tx, testStore, product, 4, "sale-1")
		return err
	})
	require.NoError(t, err)
	assertMoney(t, "2.40", unitCost)

	rec, err := f.inventory.Get(f.ctx, testStore, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)
	require.Len(t, f.store.Adjustments(), 1)
	assert.Equal(t, 4, f.store.Adjustments()[0].Delta)
}

func TestInventoryDisposeRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)

	err := f.store.WithTx(f.ctx, func(tx store.Tx) error {
		return f.inventory.Dispose(f.ctx, tx, "KEEP", testStore, widgetID, 1, dec("4.00"), "ret-1")
	})
	requireKind(t, err, KindInvalidPayload)
}

func TestInventoryGetMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.inventory.Get(f.ctx, testStore, "nope")
	requireKind(t, err, KindNotFound)
}
