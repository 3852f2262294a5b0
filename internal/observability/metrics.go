// internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "autowait"

var (
	metricPollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "poll_outcomes_total",
		Help:      "Polls finished, by outcome status.",
	}, []string{"status"})
	metricPollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "poll_attempts",
		Help:      "Evaluations performed per poll.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
	})
	metricPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "poll_duration_seconds",
		Help:      "Wall time from the first evaluation to the outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "actions_total",
		Help:      "Actions attempted, by action kind and result.",
	}, []string{"action", "result"})
	metricContextsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pool_contexts_in_use",
		Help:      "Execution contexts currently checked out.",
	})
	metricContextsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pool_contexts_idle",
		Help:      "Reset execution contexts waiting for reuse.",
	})
	metricContextsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pool_contexts_created_total",
		Help:      "Execution contexts provisioned from the driver.",
	})
	metricCheckoutWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "pool_checkout_wait_seconds",
		Help:      "Time spent waiting for a free slot.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// RecordPoll counts one finished poll.
func RecordPoll(status string, attempts int, seconds float64) {
	metricPollOutcomes.WithLabelValues(status).Inc()
	metricPollAttempts.Observe(float64(attempts))
	metricPollDuration.Observe(seconds)
}

// RecordAction counts one attempted action. result is "ok" or the outcome
// status that prevented the action.
func RecordAction(action, result string) {
	metricActions.WithLabelValues(action, result).Inc()
}

// RecordCheckout tracks a slot acquisition.
func RecordCheckout(waitSeconds float64) {
	metricContextsInUse.Inc()
	metricCheckoutWait.Observe(waitSeconds)
}

// RecordCheckin tracks a slot release.
func RecordCheckin() {
	metricContextsInUse.Dec()
}

// RecordContextCreated counts a freshly provisioned context.
func RecordContextCreated() {
	metricContextsCreated.Inc()
}

// SetIdleContexts publishes the free-list length.
func SetIdleContexts(n int) {
	metricContextsIdle.Set(float64(n))
}
