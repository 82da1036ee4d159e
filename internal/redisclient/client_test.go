package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"pos-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupKeyUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	day := time.Date(2024, 3, 2, 1, 30, 0, 0, loc)

	assert.Equal(t, "rollup:store-1:2024-03-01", RollupKey("store-1", day))
	assert.Equal(t, "dashboard:store-1", DashboardChannel("store-1"))
}

func TestRollupArgsInMinorUnits(t *testing.T) {
	delta := models.RollupDelta{
		StoreID:      "store-1",
		Revenue:      decimal.RequireFromString("41.54"),
		Transactions: 1,
		Discount:     decimal.RequireFromString("0.50"),
		Tax:          decimal.RequireFromString("3.085"),
	}

	args := rollupArgs(delta, 48*time.Hour)
	assert.Equal(t, []interface{}{
		int64(172800),
		FieldRevenue, int64(4154),
		FieldTransactions, int64(1),
		FieldDiscount, int64(50),
		FieldTax, int64(309),
		FieldRefunds, int64(0),
		FieldReturns, int64(0),
	}, args)
}

func TestParseRollup(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rollup := parseRollup("store-1", day, map[string]string{
		FieldRevenue:      "4154",
		FieldTransactions: "2",
		FieldRefunds:      "1000",
		FieldReturns:      "1",
	})

	assert.Equal(t, "2024-03-01", rollup.Day)
	assert.Equal(t, "41.54", rollup.Revenue.StringFixed(2))
	assert.Equal(t, int64(2), rollup.Transactions)
	assert.Equal(t, "10.00", rollup.Refunds.StringFixed(2))
	assert.True(t, rollup.Tax.IsZero())
}

func TestIncrementRollupAgainstRedis(t *testing.T) {
	addr := os.Getenv("POS_LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POS_LEDGER_TEST_REDIS_ADDR not set")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	storeID := "it-" + uuid.NewString()
	day := time.Now().UTC()
	defer c.GetClient().Del(ctx, RollupKey(storeID, day))

	delta := models.RollupDelta{StoreID: storeID, Day: day, Revenue: decimal.RequireFromString("12.34"), Transactions: 1}
	require.NoError(t, c.IncrementRollup(ctx, delta, time.Hour))
	require.NoError(t, c.IncrementRollup(ctx, delta, time.Hour))

	rollup, err := c.GetRollup(ctx, storeID, day)
	require.NoError(t, err)
	assert.Equal(t, "24.68", rollup.Revenue.StringFixed(2))
	assert.Equal(t, int64(2), rollup.Transactions)

	ttl, err := c.GetClient().TTL(ctx, RollupKey(storeID, day)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	first, err := c.MarkEventSeen(ctx, storeID, time.Minute)
	require.NoError(t, err)
	second, err := c.MarkEventSeen(ctx, storeID, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}
