package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"pos-ledger/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed scripts/rollup_increment.lua
var rollupIncrementScript string

const dayLayout = "2006-01-02"

// Rollup hash fields
const (
	FieldRevenue      = "revenue"
	FieldTransactions = "transactions"
	FieldDiscount     = "discount"
	FieldTax          = "tax"
	FieldRefunds      = "refunds"
	FieldReturns      = "returns"
)

type Client struct {
	rdb          *redis.Client
	rollupScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		rollupScript: redis.NewScript(rollupIncrementScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RollupKey is the hash holding one store's totals for one UTC day
func RollupKey(storeID string, day time.Time) string {
	return fmt.Sprintf("rollup:%s:%s", storeID, day.UTC().Format(dayLayout))
}

// DashboardChannel is the pub/sub channel live dashboards of a store subscribe to
func DashboardChannel(storeID string) string {
	return fmt.Sprintf("dashboard:%s", storeID)
}

func rollupArgs(delta models.RollupDelta, ttl time.Duration) []interface{} {
	return []interface{}{
		int64(ttl / time.Second),
		FieldRevenue, models.MinorUnits(delta.Revenue),
		FieldTransactions, delta.Transactions,
		FieldDiscount, models.MinorUnits(delta.Discount),
		FieldTax, models.MinorUnits(delta.Tax),
		FieldRefunds, models.MinorUnits(delta.Refunds),
		FieldReturns, delta.Returns,
	}
}

// IncrementRollup atomically adds delta to the store's daily hash and sets its TTL on first write.
// Money fields are kept in minor units so HINCRBY stays exact.
func (c *Client) IncrementRollup(ctx context.Context, delta models.RollupDelta, ttl time.Duration) error {
	key := RollupKey(delta.StoreID, delta.Day)

	if _, err := c.rollupScript.Run(ctx, c.rdb, []string{key}, rollupArgs(delta, ttl)...).Result(); err != nil {
		return fmt.Errorf("rollup increment script failed: %w", err)
	}
	return nil
}

// GetRollup reads the store's totals for a day
func (c *Client) GetRollup(ctx context.Context, storeID string, day time.Time) (*models.DailyRollup, error) {
	result, err := c.rdb.HGetAll(ctx, RollupKey(storeID, day)).Result()
	if err != nil {
		return nil, err
	}
	return parseRollup(storeID, day, result), nil
}

func parseRollup(storeID string, day time.Time, fields map[string]string) *models.DailyRollup {
	integer := func(name string) int64 {
		v, _ := strconv.ParseInt(fields[name], 10, 64)
		return v
	}
	money := func(name string) decimal.Decimal {
		return decimal.New(integer(name), -models.MoneyScale)
	}

	return &models.DailyRollup{
		StoreID:      storeID,
		Day:          day.UTC().Format(dayLayout),
		Revenue:      money(FieldRevenue),
		Transactions: integer(FieldTransactions),
		Discount:     money(FieldDiscount),
		Tax:          money(FieldTax),
		Refunds:      money(FieldRefunds),
		Returns:      integer(FieldReturns),
	}
}

// MarkEventSeen records an event id, reporting false when it was already recorded
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("event:seen:%s", eventID), "1", ttl).Result()
}

// PublishDashboard pushes a payload to the store's dashboard channel
func (c *Client) PublishDashboard(ctx context.Context, storeID string, payload []byte) error {
	return c.rdb.Publish(ctx, DashboardChannel(storeID), payload).Err()
}
