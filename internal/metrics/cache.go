package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheRequestsTotal counts two-tier cache lookups.
// artifact: embedding / query / results / place. tier: local / shared.
// result: hit / miss / expired / error.
var CacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by artifact, tier and result",
	},
	[]string{"artifact", "tier", "result"},
)
