package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/service"
	"pos-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	dayLayout         = "2006-01-02"
)

// RollupReader serves the daily rollups accumulated by the ledgers
type RollupReader interface {
	GetRollup(ctx context.Context, storeID string, day time.Time) (*models.DailyRollup, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the ledger components the handlers call
type Services struct {
	Sales     *service.SaleLedger
	Returns   *service.ReturnEngine
	Swaps     *service.SwapEngine
	Inventory *service.InventoryLedger
	Loyalty   *service.LoyaltyLedger
	// Rollups is optional; the rollup endpoint answers 503 without it
	Rollups RollupReader
	// Readiness lists the dependencies /ready pings, by name
	Readiness map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	registerDecimalValidation()

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sales", h.createSale)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/sales/:id/returns", h.createReturn)
		v1.POST("/sales/:id/swaps", h.createSwap)

		stores := v1.Group("/stores/:storeId")
		stores.GET("/inventory/:productId", h.getInventory)
		stores.GET("/loyalty/:phone", h.getLoyaltyAccount)
		stores.GET("/rollups/:day", h.getRollup)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.svc.Readiness))
	ready := true
	for name, dep := range h.svc.Readiness {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createSale handles sale creation
func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.Sales.CreateSale(c.Request.Context(), &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondWrite(c, result, result.Replayed)
}

// getSale handles get sale by ID
func (h *Handler) getSale(c *gin.Context) {
	sale, err := h.svc.Sales.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

// createReturn handles returns against a sale
func (h *Handler) createReturn(c *gin.Context) {
	var req service.CreateReturnRequest
	if !h.bind(c, &req) {
		return
	}
	req.SaleID = c.Param("id")

	result, err := h.svc.Returns.CreateReturn(c.Request.Context(), &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondWrite(c, result, result.Replayed)
}

// createSwap handles swaps of a sale line
func (h *Handler) createSwap(c *gin.Context) {
	var req service.SwapRequest
	if !h.bind(c, &req) {
		return
	}
	req.SaleID = c.Param("id")

	result, err := h.svc.Swaps.Swap(c.Request.Context(), &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondWrite(c, result, result.Replayed)
}

func (h *Handler) getInventory(c *gin.Context) {
	rec, err := h.svc.Inventory.Get(c.Request.Context(), c.Param("storeId"), c.Param("productId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) getLoyaltyAccount(c *gin.Context) {
	account, err := h.svc.Loyalty.GetAccount(c.Request.Context(), c.Param("storeId"), c.Param("phone"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// getRollup handles reads of a store's daily totals
func (h *Handler) getRollup(c *gin.Context) {
	if h.svc.Rollups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Rollups are not configured",
		})
		return
	}

	day, err := time.Parse(dayLayout, c.Param("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid day",
			"details": "expected YYYY-MM-DD",
		})
		return
	}

	rollup, err := h.svc.Rollups.GetRollup(c.Request.Context(), c.Param("storeId"), day)
	if err != nil {
		h.logger.Error("Failed to read rollup", zap.String("store_id", c.Param("storeId")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to read rollup",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, rollup)
}

// bind decodes and validates the JSON body, answering 400 on failure
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"kind":    service.KindInvalidPayload,
			"details": err.Error(),
		})
		return false
	}
	return true
}

// fail renders a ledger error with the status its kind maps to
func (h *Handler) fail(c *gin.Context, err error) {
	le, ok := service.AsLedgerError(err)
	if !ok {
		h.logger.Error("Unclassified ledger error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
		return
	}

	if le.Retryable() {
		c.Header("Retry-After", "1")
	}
	c.JSON(le.HTTPStatus(), gin.H{
		"error":   le.Message,
		"kind":    le.Kind,
		"details": le.Details,
	})
}

// respondWrite answers 201 for a first execution and 200 for a replay
func respondWrite(c *gin.Context, body interface{}, replayed bool) {
	if replayed {
		c.Header(replayedHeader, "true")
		c.JSON(http.StatusOK, body)
		return
	}
	c.JSON(http.StatusCreated, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger writes one structured line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
