package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of sales committed",
	})

	SalesReplayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_replayed_total",
		Help: "Total number of write requests answered from an earlier idempotent execution",
	}, []string{"operation"})

	ReturnsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "returns_created_total",
		Help: "Total number of returns committed",
	}, []string{"refund_type"})

	SwapsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swaps_created_total",
		Help: "Total number of swaps committed",
	})

	StockDiscoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_discoveries_total",
		Help: "Total number of sale debits that found recorded stock short",
	})

	LoyaltyPointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_points_total",
		Help: "Loyalty points moved, by reason",
	}, []string{"reason"})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Sale payments checked, by method and result",
	}, []string{"method", "result"})

	LedgerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_failures_total",
		Help: "Total number of failed ledger operations",
	}, []string{"operation", "kind"})

	SideEffectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "side_effect_failures_total",
		Help: "Total number of post-commit side effects that failed",
	}, []string{"sink"})

	LedgerOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_latency_seconds",
		Help:    "Latency of ledger operations including the database transaction",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DashboardEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_events_total",
		Help: "Ledger events handled by the dashboard worker",
	}, []string{"event", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
