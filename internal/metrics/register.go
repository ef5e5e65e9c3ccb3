package metrics

import "github.com/prometheus/client_golang/prometheus"

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		AIRequestsTotal, AIRequestDuration, AITokensTotal, AIErrorsTotal, ModelOutputTotal,
		CacheRequestsTotal,
		QueryParseTotal, RetrievalStageTotal, RetrievalCandidates, SearchDuration,
		ExtractionJobsTotal, ExtractionAttempts, DeadLettersTotal, LastCompletionTimestamp, AggregationsTotal,
		httpRequestDuration, httpRequestsTotal,
	}
}

// Register registers every service metric with reg. Must be called once from main.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err //nolint:wrapcheck // registry errors are self-describing
		}
	}
	return nil
}
