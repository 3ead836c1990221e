// Package metrics provides the Prometheus collectors for the generation
// control plane. Metrics follow the naming convention
// calendar2image_<subsystem>_<name>_<unit>.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks retry attempts for resilience-wrapped operations
// (the ICS feed fetch). Registered once via NewRetryMetrics;
// repeated calls return the same collectors.
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	FinalAttemptsTotal *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
}

var (
	retryMetricsOnce     sync.Once
	retryMetricsInstance *RetryMetrics
)

// NewRetryMetrics returns the process-wide RetryMetrics singleton, registering
// its collectors with the default Prometheus registry on first use.
func NewRetryMetrics() *RetryMetrics {
	retryMetricsOnce.Do(func() {
		retryMetricsInstance = &RetryMetrics{
			AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "calendar2image",
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Retry attempts by operation, outcome, and error type.",
			}, []string{"operation", "outcome", "error_type"}),
			FinalAttemptsTotal: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "calendar2image",
				Subsystem: "retry",
				Name:      "final_attempt_count",
				Help:      "Number of attempts made before an operation settled.",
				Buckets:   prometheus.LinearBuckets(1, 1, 6),
			}, []string{"operation", "outcome"}),
			BackoffSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "calendar2image",
				Subsystem: "retry",
				Name:      "backoff_seconds",
				Help:      "Backoff delay applied between retry attempts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
	})
	return retryMetricsInstance
}

// RecordAttempt counts a single attempt by outcome and error type.
// durationSeconds is accepted but not recorded.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
}

// RecordFinalAttempt records how many attempts an operation took to settle.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}

// RecordBackoff records a backoff delay applied before a retry.
func (m *RetryMetrics) RecordBackoff(operation string, seconds float64) {
	m.BackoffSeconds.WithLabelValues(operation).Observe(seconds)
}

// Registry groups the collectors owned by each control-plane component.
// Service wires one Registry at startup and passes it to each component's
// constructor.
type Registry struct {
	CacheHitsTotal       *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	DispatchTotal        *prometheus.CounterVec
	SchedulerTicksTotal  *prometheus.CounterVec
	FetchCacheHitsTotal  *prometheus.CounterVec
	FetchRefreshInFlight prometheus.Gauge
	Retry                *RetryMetrics
}

var (
	registryOnce     sync.Once
	registryInstance *Registry
)

// NewRegistry returns the process-wide metrics Registry singleton.
func NewRegistry() *Registry {
	registryOnce.Do(func() {
		registryInstance = &Registry{
			CacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "calendar2image",
				Subsystem: "http",
				Name:      "cache_result_total",
				Help:      "HTTP Front Door responses by X-Cache result (HIT, MISS, DISABLED, BYPASS).",
			}, []string{"result"}),
			DispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "calendar2image",
				Subsystem: "worker",
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of a single generation worker dispatch.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			}, []string{"trigger", "outcome"}),
			DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "calendar2image",
				Subsystem: "worker",
				Name:      "dispatch_total",
				Help:      "Generation worker dispatches by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			SchedulerTicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "calendar2image",
				Subsystem: "scheduler",
				Name:      "ticks_total",
				Help:      "Cron ticks observed by the scheduler, by outcome (fired, skipped_overlap).",
			}, []string{"config_name", "outcome"}),
			FetchCacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "calendar2image",
				Subsystem: "auxfetch",
				Name:      "cache_result_total",
				Help:      "Auxiliary Fetcher results by type (miss, fresh, stale).",
			}, []string{"result"}),
			FetchRefreshInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "calendar2image",
				Subsystem: "auxfetch",
				Name:      "refresh_in_flight",
				Help:      "Number of background stale-while-revalidate refreshes currently running.",
			}),
			Retry: NewRetryMetrics(),
		}
	})
	return registryInstance
}
