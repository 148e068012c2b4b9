package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC request activity.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// BrokerOpMetrics tracks executor outcomes.
type BrokerOpMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	fillFailures *prometheus.CounterVec
	commits      prometheus.Counter
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *RPCMetrics

	brokerMetricsOnce sync.Once
	brokerRegistry    *BrokerOpMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// method activity.
func ModuleMetrics() *RPCMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "broker",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "broker",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "broker",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "broker",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *RPCMetrics) Observe(module, method string, status int, duration time.Duration) {
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

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *RPCMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// BrokerMetrics returns the singleton registry for executor outcomes.
func BrokerMetrics() *BrokerOpMetrics {
	brokerMetricsOnce.Do(func() {
		brokerRegistry = &BrokerOpMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "operations_total",
				Help:      "Count of broker operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "broker",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for broker operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			fillFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "fill_failures_total",
				Help:      "Count of declined fills segmented by failure reason.",
			}, []string{"reason"}),
			commits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "state_commits_total",
				Help:      "Count of ledger commits.",
			}),
		}
		prometheus.MustRegister(
			brokerRegistry.operations,
			brokerRegistry.latency,
			brokerRegistry.fillFailures,
			brokerRegistry.commits,
		)
	})
	return brokerRegistry
}

// ObserveOperation records one executor run. Outcome is one of "committed",
// "declined" or "aborted".
func (m *BrokerOpMetrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordFillFailure increments the fill failure counter.
func (m *BrokerOpMetrics) RecordFillFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.fillFailures.WithLabelValues(reason).Inc()
}

// RecordCommit increments the commit counter.
func (m *BrokerOpMetrics) RecordCommit() {
	if m == nil {
		return
	}
	m.commits.Inc()
}
