package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "factoryops"

var (
	once sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_transitions_total",
			Help:      "Count of attendance transitions by action and result code.",
		},
		[]string{"action", "result"},
	)

	transitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attendance_transition_duration_seconds",
			Help:      "Time spent validating and writing a transition.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"action"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	aggregateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_aggregate_failures_total",
			Help:      "Count of dashboard sub-aggregates degraded to zero values.",
		},
		[]string{"aggregate"},
	)

	activityDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_log_dropped_total",
			Help:      "Count of activity events that could not be written.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(transitions, transitionDuration, httpRequests, aggregateFailures, activityDropped)
	})
}

func IncTransition(action, result string) {
	transitions.WithLabelValues(action, result).Inc()
}

func ObserveTransition(action string, seconds float64) {
	transitionDuration.WithLabelValues(action).Observe(seconds)
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncAggregateFailure(aggregate string) {
	aggregateFailures.WithLabelValues(aggregate).Inc()
}

func IncActivityDropped() {
	activityDropped.Inc()
}
