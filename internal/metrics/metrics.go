// Package metrics provides Prometheus instrumentation for the ledger.
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
	// OperationsTotal counts ledger operations by outcome code. Successful
	// operations carry code "OK".
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solshield_operations_total",
		Help: "Total ledger operations by outcome",
	}, []string{"operation", "code"})

	// OperationLatency tracks ledger operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solshield_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// StatusTransitions counts position status changes.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solshield_status_transitions_total",
		Help: "Position status transitions",
	}, []string{"from", "to"})

	// RebalancesTotal counts recorded rebalances by action type.
	RebalancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solshield_rebalances_total",
		Help: "Rebalance records appended",
	}, []string{"action"})

	// PositionsRegistered mirrors the protocol's total_positions counter.
	PositionsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solshield_positions_registered",
		Help: "Number of live registered positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solshield_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solshield_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solshield_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// RateLimitRejections counts requests refused by the per-signer limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solshield_rate_limit_rejections_total",
		Help: "Requests rejected by the per-signer rate limiter",
	})
)

// ObserveOperation records one ledger operation. code is empty on success.
func ObserveOperation(op, code string, elapsed time.Duration) {
	if code == "" {
		code = "OK"
	}
	OperationsTotal.WithLabelValues(op, code).Inc()
	OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

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

		// Label by route pattern so position addresses don't explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
