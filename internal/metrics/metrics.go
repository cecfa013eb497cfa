package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricearbiter_lookups_total",
		Help: "Price lookups resolved, by resulting confidence",
	}, []string{"confidence"})

	LookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricearbiter_lookup_duration_seconds",
		Help:    "End-to-end lookup latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"game"})

	SourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricearbiter_source_errors_total",
		Help: "Adapter lookups that failed permanently",
	}, []string{"source"})

	ClientCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricearbiter_client_cache_hits_total",
		Help: "Responses served from the per-source client cache",
	}, []string{"client"})

	ClientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricearbiter_client_retries_total",
		Help: "Network attempts beyond the first, per source client",
	}, []string{"client"})

	LedgerDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricearbiter_ledger_drops_total",
		Help: "Ledger records dropped because the write queue was full",
	})
)
