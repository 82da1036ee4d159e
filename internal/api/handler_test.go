package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/models"
	"pos-ledger/internal/service"
	"pos-ledger/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saleBody = `{
	"store_id": "store-001",
	"cashier_id": "cashier-1",
	"items": [{"product_id": "SKU-MUG-CLASSIC", "quantity": 2, "unit_price": "12.00", "line_total": "24.00"}],
	"subtotal": "24.00",
	"tax": "1.20",
	"total": "25.20",
	"payment": {"method": "CASH"}
}`

type stubRollups struct {
	rollup *models.DailyRollup
	err    error
}

func (s *stubRollups) GetRollup(_ context.Context, storeID string, day time.Time) (*models.DailyRollup, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := *s.rollup
	r.StoreID = storeID
	r.Day = day.Format(dayLayout)
	return &r, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func setupRouter(t *testing.T, rollups RollupReader, readiness map[string]Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.NewSeeded()
	inventory := service.NewInventoryLedger(st)
	loyalty := service.NewLoyaltyLedger(st, config.LoyaltyConfig{EarnRate: decimal.NewFromInt(1), RedeemValue: decimal.RequireFromString("0.01")})

	handler := NewHandler(Services{
		Sales:     service.NewSaleLedger(st, inventory, loyalty, service.NewPaymentService(), nil, "USD"),
		Returns:   service.NewReturnEngine(st, inventory, nil),
		Swaps:     service.NewSwapEngine(st, inventory, nil),
		Inventory: inventory,
		Loyalty:   loyalty,
		Rollups:   rollups,
		Readiness: readiness,
	})

	router := gin.New()
	handler.SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSale(t *testing.T, w *httptest.ResponseRecorder) models.Sale {
	t.Helper()
	var body struct {
		Sale models.Sale `json:"sale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Sale
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Kind
}

func TestCreateSaleEndpoint(t *testing.T) {
	router := setupRouter(t, nil, nil)

	w := do(router, http.MethodPost, "/api/v1/sales", "sale-1", saleBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get(replayedHeader))
	first := decodeSale(t, w)
	assert.Equal(t, "25.20", first.Total.StringFixed(2))

	w = do(router, http.MethodPost, "/api/v1/sales", "sale-1", saleBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(replayedHeader))
	assert.Equal(t, first.ID, decodeSale(t, w).ID)

	w = do(router, http.MethodGet, "/api/v1/sales/"+first.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/stores/store-001/inventory/SKU-MUG-CLASSIC", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.InventoryRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 48, rec.Quantity)
}

func TestCreateSaleEndpointRejections(t *testing.T) {
	router := setupRouter(t, nil, nil)

	tests := []struct {
		name   string
		key    string
		body   string
		status int
		kind   string
	}{
		{"missing idempotency key", "", saleBody, http.StatusBadRequest, "InvalidPayload"},
		{"malformed json", "k-1", `{"store_id":`, http.StatusBadRequest, "InvalidPayload"},
		{"negative subtotal", "k-2", `{"store_id":"store-001","cashier_id":"c","items":[{"product_id":"SKU-MUG-CLASSIC","quantity":1,"unit_price":"1","line_total":"1"}],"subtotal":"-1","payment":{"method":"CASH"}}`, http.StatusBadRequest, "InvalidPayload"},
		{"missing payment method", "k-3", `{"store_id":"store-001","cashier_id":"c","items":[{"product_id":"SKU-MUG-CLASSIC","quantity":1,"unit_price":"1","line_total":"1"}],"subtotal":"1","payment":{}}`, http.StatusBadRequest, "InvalidPayload"},
		{"points without balance", "k-4", `{"store_id":"store-001","cashier_id":"c","customer_phone":"+15550100","redeem_points":50,"items":[{"product_id":"SKU-MUG-CLASSIC","quantity":1,"unit_price":"12.00","line_total":"12.00"}],"subtotal":"12.00","payment":{"method":"CASH"}}`, http.StatusUnprocessableEntity, "InsufficientLoyaltyPoints"},
		{"digital without wallet", "k-5", `{"store_id":"store-001","cashier_id":"c","items":[{"product_id":"SKU-MUG-CLASSIC","quantity":1,"unit_price":"12.00","line_total":"12.00"}],"subtotal":"12.00","payment":{"method":"DIGITAL"}}`, http.StatusUnprocessableEntity, "PaymentValidationFailed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/sales", tt.key, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestReturnAndSwapEndpoints(t *testing.T) {
	router := setupRouter(t, nil, nil)

	w := do(router, http.MethodPost, "/api/v1/sales", "sale-1", saleBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sale := decodeSale(t, w)
	itemID := sale.Items[0].ID

	returnBody := `{"store_id":"store-001","items":[{"sale_item_id":"` + itemID + `","quantity":1,"restock_action":"RESTOCK"}]}`
	w = do(router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/returns", "ret-1", returnBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var ret service.ReturnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ret))
	assert.Equal(t, models.RefundTypePartial, ret.Return.RefundType)
	assert.Equal(t, "12.00", ret.Return.TotalRefund.StringFixed(2))
	assert.Equal(t, "0.60", ret.Return.TotalTaxRefund.StringFixed(2))

	w = do(router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/returns", "ret-2",
		`{"store_id":"store-001","items":[{"sale_item_id":"`+itemID+`","quantity":5,"restock_action":"RESTOCK"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ReturnQuantityExceedsRemaining", errorKind(t, w))

	swapBody := `{"store_id":"store-001","sale_item_id":"` + itemID + `","quantity":1,"restock_action":"RESTOCK","new_items":[{"product_id":"SKU-MUG-LARGE","quantity":1}]}`
	w = do(router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/swaps", "swap-1", swapBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var swap service.SwapResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &swap))
	assert.Equal(t, "3.00", swap.Swap.PriceDifference.StringFixed(2))

	w = do(router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/swaps", "swap-1", swapBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get(replayedHeader))

	w = do(router, http.MethodPost, "/api/v1/sales/"+sale.ID+"/swaps", "swap-2",
		`{"store_id":"store-002","sale_item_id":"`+itemID+`","quantity":1,"restock_action":"RESTOCK","new_items":[{"product_id":"SKU-MUG-LARGE","quantity":1}]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "StoreMismatch", errorKind(t, w))
}

func TestReadEndpointsNotFound(t *testing.T) {
	router := setupRouter(t, nil, nil)

	w := do(router, http.MethodGet, "/api/v1/sales/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SaleNotFound", errorKind(t, w))

	w = do(router, http.MethodGet, "/api/v1/stores/store-001/loyalty/+15550199", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/stores/store-001/inventory/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollupEndpoint(t *testing.T) {
	rollups := &stubRollups{rollup: &models.DailyRollup{Revenue: decimal.RequireFromString("25.20"), Transactions: 1}}
	router := setupRouter(t, rollups, nil)

	w := do(router, http.MethodGet, "/api/v1/stores/store-001/rollups/2024-03-01", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.DailyRollup
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "2024-03-01", got.Day)
	assert.Equal(t, int64(1), got.Transactions)

	w = do(router, http.MethodGet, "/api/v1/stores/store-001/rollups/yesterday", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rollups.err = errors.New("redis down")
	w = do(router, http.MethodGet, "/api/v1/stores/store-001/rollups/2024-03-01", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRollupEndpointWithoutRedis(t *testing.T) {
	router := setupRouter(t, nil, nil)

	w := do(router, http.MethodGet, "/api/v1/stores/store-001/rollups/2024-03-01", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	router := setupRouter(t, nil, map[string]Pinger{
		"store": stubPinger{},
		"redis": stubPinger{err: errors.New("connection refused")},
	})

	w := do(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
