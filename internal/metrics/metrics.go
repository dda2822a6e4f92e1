// Package metrics provides Prometheus instrumentation for the trade engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by type (buy/sell).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_trades_total",
		Help: "Total number of trades settled",
	}, []string{"type"})

	// SettlementLatency tracks end-to-end settlement latency by trade type.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bullion_settlement_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// InsufficientFundsTotal counts buys rejected before any mutation.
	InsufficientFundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullion_insufficient_funds_total",
		Help: "Buy orders rejected for insufficient balance",
	})

	// TradeLimitRejections counts buys refused by the trade limiter.
	TradeLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullion_trade_limit_rejections_total",
		Help: "Buy orders refused by per-trade or exposure limits",
	})

	// SettlementCompensations counts settlement sequences that failed
	// mid-flow and were unwound.
	SettlementCompensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullion_settlement_compensations_total",
		Help: "Settlement sequences unwound after a mid-flow failure",
	})

	// CompensationFailures counts compensating actions that themselves
	// failed and require manual reconciliation.
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullion_compensation_failures_total",
		Help: "Compensating actions that failed (manual reconciliation needed)",
	})

	// SpotPrice tracks the current spot price per metal in USD/oz.
	SpotPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bullion_spot_price_usd",
		Help: "Current spot price in USD per troy ounce",
	}, []string{"metal"})

	// QuotesIssued counts server-issued locked quotes by source.
	QuotesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_quotes_issued_total",
		Help: "Locked quotes issued, by pricing source",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bullion_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bullion_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the URL path for the label; route cardinality is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
