package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "venuesearch"

// Embedding and completion provider metrics. operation is "embed",
// "query_parse" or "review_extract".
var (
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Total number of embedding and completion requests",
		},
		[]string{"provider", "model", "operation", "status"},
	)

	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Embedding and completion request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Total provider tokens consumed",
		},
		[]string{"provider", "operation", "type"}, // type: prompt / completion
	)

	AIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_errors_total",
			Help:      "Total provider errors",
		},
		[]string{"provider", "operation", "error_type"},
	)

	// ModelOutputTotal counts decoded model responses by validity.
	ModelOutputTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_output_total",
			Help:      "Completion responses by schema validation result",
		},
		[]string{"operation", "result"}, // valid / malformed
	)
)
