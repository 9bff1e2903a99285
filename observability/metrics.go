package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type marketMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	paused    *prometheus.GaugeVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// MarketMetrics returns the lazily-initialised metrics registry used to record
// marketplace RPC activity.
func MarketMetrics() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests segmented by module, method, and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "market",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for marketplace RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of RPC requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
			paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "market",
				Subsystem: "engine",
				Name:      "module_paused",
				Help:      "Whether a marketplace module pause guard is active (1) or not (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			marketRegistry.requests,
			marketRegistry.errors,
			marketRegistry.latency,
			marketRegistry.throttles,
			marketRegistry.paused,
		)
	})
	return marketRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *marketMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *marketMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// SetPaused mirrors the engine pause state onto the paused gauge.
func (m *marketMetrics) SetPaused(module string, engaged bool) {
	if m == nil {
		return
	}
	value := 0.0
	if engaged {
		value = 1
	}
	m.paused.WithLabelValues(module).Set(value)
}
