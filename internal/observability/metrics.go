package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopledger/shopledger/internal/shared"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics initialises the registry and the HTTP metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// LedgerMetrics instruments purchase and sale processing. A nil receiver is a no-op.
type LedgerMetrics struct {
	committed *prometheus.CounterVec
	amount    *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	committed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_ledger_transactions_total",
		Help: "Committed ledger transactions by kind.",
	}, []string{"kind"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_ledger_amount_total",
		Help: "Grand total of committed ledger transactions by kind.",
	}, []string{"kind"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_ledger_failures_total",
		Help: "Rejected or aborted ledger transactions by kind and reason.",
	}, []string{"kind", "reason"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopledger_ledger_retries_total",
		Help: "Units of work re-run after a write conflict.",
	}, []string{"kind"})
	registerer.MustRegister(committed, amount, failed, retried)
	return &LedgerMetrics{committed: committed, amount: amount, failed: failed, retried: retried}
}

// Committed counts a successful transaction.
func (m *LedgerMetrics) Committed(kind string, grandTotal float64) {
	if m == nil {
		return
	}
	m.committed.WithLabelValues(kind).Inc()
	if grandTotal > 0 {
		m.amount.WithLabelValues(kind).Add(grandTotal)
	}
}

// Failed counts a transaction that did not commit.
func (m *LedgerMetrics) Failed(kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failed.WithLabelValues(kind, failureReason(err)).Inc()
}

// Retried counts a re-run unit of work.
func (m *LedgerMetrics) Retried(kind string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(kind).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrConcurrentUpdate):
		return "conflict"
	default:
		return "store"
	}
}
