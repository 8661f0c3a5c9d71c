package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the ledger.
const Namespace = "lendledger"

// LedgerMetricsRegistry tracks ledger calls, token transfers, and event
// publication. A nil registry is safe to use and records nothing.
type LedgerMetricsRegistry struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transfers   *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	published   prometheus.Counter
	subscribers prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetricsRegistry

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetricsRegistry
)

// LedgerMetrics returns the lazily-initialised ledger metrics registry.
func LedgerMetrics() *LedgerMetricsRegistry {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetricsRegistry{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Total ledger calls segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for ledger calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Token transfer instructions dispatched segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ledger",
				Name:      "rejections_total",
				Help:      "Calls refused before execution segmented by reason.",
			}, []string{"reason"}),
			published: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Ledger events published after commit.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Open live event stream subscriptions.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.calls,
			ledgerRegistry.latency,
			ledgerRegistry.transfers,
			ledgerRegistry.rejections,
			ledgerRegistry.published,
			ledgerRegistry.subscribers,
		)
	})
	return ledgerRegistry
}

// ObserveCall records the outcome and latency of a ledger call.
func (m *LedgerMetricsRegistry) ObserveCall(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	action = normalizeLabel(action)
	m.calls.WithLabelValues(action, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordTransfer counts a dispatched transfer instruction.
func (m *LedgerMetricsRegistry) RecordTransfer(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.transfers.WithLabelValues(normalizeLabel(kind), outcome).Inc()
}

// RecordRejection counts a call refused before execution. Reasons should be
// stable strings such as "paused" or "quota_exceeded".
func (m *LedgerMetricsRegistry) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// RecordPublished adds n to the published events counter.
func (m *LedgerMetricsRegistry) RecordPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.published.Add(float64(n))
}

// SetSubscribers reports the number of open stream subscriptions.
func (m *LedgerMetricsRegistry) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// HTTPMetricsRegistry captures request metrics for the ledger daemon.
type HTTPMetricsRegistry struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// HTTPMetrics returns the singleton HTTP metrics registry.
func HTTPMetrics() *HTTPMetricsRegistry {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetricsRegistry{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *HTTPMetricsRegistry) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	method = normalizeLabel(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, statusLabel(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route and reason.
func (m *HTTPMetricsRegistry) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route), normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func statusLabel(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status)
}
