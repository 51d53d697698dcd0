// Package middleware provides cross-cutting concerns for asserters and LLM
// clients.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-behave/infrastructure/llm"
	"github.com/ahrav/go-behave/internal/ports"
)

const unknownLabel = "unknown"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Assertion outcomes and LLM request metrics get dedicated series; anything
// else lands in the generic operation metrics.
type PrometheusMetrics struct {
	assertionsTotal  *prometheus.CounterVec
	assertionLatency *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
	valueHistogram   *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses the global Prometheus registry, which accepts each metric
// name only once per process.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Assertion metrics.
		assertionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behave_assertions_total",
				Help: "Behavioral assertions by outcome.",
			},
			[]string{"provider", "model", "outcome"},
		),
		assertionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "behave_assertion_duration_seconds",
				Help:    "End-to-end duration of behavioral assertions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "outcome"},
		),

		// LLM request metrics.
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behave_llm_requests_total",
				Help: "LLM requests by provider, model and status.",
			},
			[]string{"provider", "model", "status"},
		),
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "behave_llm_request_duration_seconds",
				Help:    "Duration of LLM requests, including retries below the metrics layer.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behave_llm_tokens_total",
				Help: "Tokens reported by providers.",
			},
			[]string{"provider", "model", "token_type"},
		),

		// General metrics for everything else.
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "behave_operation_duration_seconds",
				Help:    "Execution time of other operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "behave_operations_total",
				Help: "Counters recorded under names without a dedicated series.",
			},
			[]string{"metric"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "behave_state",
				Help: "Current values of gauges.",
			},
			[]string{"metric"},
		),
		valueHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "behave_values",
				Help:    "Distributions recorded under their metric name.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"metric"},
		),
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabel
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	switch operation {
	case ports.MetricAssertionLatency:
		pm.assertionLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "outcome"),
		).Observe(duration.Seconds())
	case llm.MetricRequestLatency:
		pm.requestLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	if value < 0 {
		return
	}
	switch metric {
	case ports.MetricAssertionsTotal:
		pm.assertionsTotal.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "outcome"),
		).Add(value)
	case llm.MetricRequestsTotal:
		pm.requestsTotal.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case llm.MetricTokensTotal:
		pm.tokensTotal.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "token_type"),
		).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, _ map[string]string) {
	pm.valueHistogram.WithLabelValues(metric).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
