// Package metrics provides Prometheus instrumentation for the copy bot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIngested counts TradeEvents stored as new.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "copybot_events_ingested_total",
		Help: "Trade events discovered and stored",
	})

	// EventsBackfilled counts events skipped by the first-sight backfill.
	EventsBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "copybot_events_backfilled_total",
		Help: "Trade events skipped as historical on first sight of an address",
	})

	// IngestErrors counts per-address ingestion failures by stage.
	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_ingest_errors_total",
		Help: "Ingestion failures by stage",
	}, []string{"stage"})

	// IngestCycleDuration observes one full ingestion cycle.
	IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "copybot_ingest_cycle_seconds",
		Help:    "Duration of one ingestion cycle across all watched addresses",
		Buckets: prometheus.DefBuckets,
	})

	// EventsResolved counts terminal resolutions by state and outcome.
	EventsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_events_resolved_total",
		Help: "Trade events resolved by the execution engine",
	}, []string{"state", "outcome"})

	// OrdersSubmitted counts order submissions by side and result.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_orders_submitted_total",
		Help: "Orders submitted to the CLOB",
	}, []string{"side", "result"})

	// OrderLatency observes order submission latency.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copybot_order_latency_seconds",
		Help:    "Order submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// CopiedNotional sums the USDC spent or received by copied orders.
	CopiedNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_copied_notional_usd_total",
		Help: "USDC notional of successfully copied orders",
	}, []string{"side"})

	// TradingEnabled is 1 when CLOB credentials were derived.
	TradingEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "copybot_trading_enabled",
		Help: "1 when the engine can submit orders, 0 when trading is disabled",
	})

	// WatchedAddresses tracks the size of the watch-list.
	WatchedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "copybot_watched_addresses",
		Help: "Number of watched addresses",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "copybot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// ArchiveUploads counts archive uploads by result.
	ArchiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_archive_uploads_total",
		Help: "Daily archive uploads",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copybot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
