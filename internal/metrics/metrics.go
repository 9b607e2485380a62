package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// RunsTotal counts resolved pipeline runs by outcome (results or an error kind).
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labelscan",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs resolved, labeled by outcome.",
	}, []string{"outcome"})

	// RunsInFlight is the number of runs currently in the analyzing state.
	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labelscan",
		Subsystem: "pipeline",
		Name:      "runs_in_flight",
		Help:      "Pipeline runs currently analyzing.",
	})

	// StaleResultsTotal counts resolutions dropped because a newer run superseded them.
	StaleResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labelscan",
		Subsystem: "pipeline",
		Name:      "stale_results_total",
		Help:      "Run resolutions discarded because the run was superseded or reset.",
	})

	// StageDurationSeconds measures each inference stage.
	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "labelscan",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"stage"})

	// SessionsActive is the number of live scan sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labelscan",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Scan sessions currently held in memory.",
	})

	// HTTPRequestsTotal counts API requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labelscan",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled, labeled by method and status code.",
	}, []string{"method", "code"})

	// HTTPRequestsInFlight is the number of requests being served.
	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labelscan",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	// HTTPRequestDurationSeconds measures request latency.
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "labelscan",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			RunsInFlight,
			StaleResultsTotal,
			StageDurationSeconds,
			SessionsActive,
			HTTPRequestsTotal,
			HTTPRequestsInFlight,
			HTTPRequestDurationSeconds,
		)
	})
}
