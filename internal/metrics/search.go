package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search path metrics.
var (
	QueryParseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_parse_total",
			Help:      "Parsed queries by source (model, heuristic, cache)",
		},
		[]string{"source"},
	)

	RetrievalStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_total",
			Help:      "Retrievals by the stage that produced the candidate set",
		},
		[]string{"stage", "mode"},
	)

	RetrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Candidate set size handed to ranking",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 150, 200},
		},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"cached"},
	)
)
