package metrics

import "github.com/prometheus/client_golang/prometheus"

// Extraction pipeline metrics.
var (
	ExtractionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_jobs_total",
			Help:      "Extraction jobs by outcome",
		},
		[]string{"outcome"}, // extracted / dead_lettered / skipped / deferred
	)

	ExtractionAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_attempts",
			Help:      "Completion attempts per finished job",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Jobs routed to the dead-letter stream",
		},
	)

	LastCompletionTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_last_completion_timestamp_seconds",
			Help:      "Unix time of the last finished extraction job",
		},
	)

	AggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Venue attribute recomputations by status",
		},
		[]string{"status"},
	)
)
