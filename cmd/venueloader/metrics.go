package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

type loaderMetrics struct {
	rowsProcessed prometheus.Counter
	rowsSkipped   *prometheus.CounterVec
	rowsFailed    *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func newLoaderMetrics(reg prometheus.Registerer) *loaderMetrics {
	m := &loaderMetrics{
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "venueloader",
			Name:      "rows_processed_total",
			Help:      "Venues embedded and stored",
		}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venueloader",
			Name:      "rows_skipped_total",
			Help:      "Rows skipped before storage",
		}, []string{"reason"}),
		rowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venueloader",
			Name:      "rows_failed_total",
			Help:      "Venues that failed to embed or store",
		}, []string{"reason"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "venueloader",
			Name:      "batch_duration_seconds",
			Help:      "Time to embed and store one batch",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	reg.MustRegister(m.rowsProcessed, m.rowsSkipped, m.rowsFailed, m.batchDuration)
	return m
}
