// Package metrics exports Prometheus counters and histograms for the
// shared cache and lock manager. Spec.md's Non-goals exclude persistence
// and query surfaces, not observability, so this is carried the way the
// rest of the example pack carries it for every shipped service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHitsTotal counts Shared Cache lookups that found a resident entry.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relly_cache_hits_total",
			Help: "Total number of Shared Cache lookups that hit.",
		},
		[]string{"index"}, // id | name | value
	)

	// CacheMissesTotal counts Shared Cache lookups that found nothing.
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relly_cache_misses_total",
			Help: "Total number of Shared Cache lookups that missed.",
		},
		[]string{"index"},
	)

	// CacheEvictionsTotal counts entries evicted from the Shared Cache.
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relly_cache_evictions_total",
			Help: "Total number of Shared Cache entries evicted.",
		},
	)

	// CacheResidentEntries is the current number of resident Shared Cache entries.
	CacheResidentEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relly_cache_resident_entries",
			Help: "Current number of entries resident in the Shared Cache.",
		},
	)

	// LockWaitSeconds measures time spent blocked in lock.Manager.Acquire.
	LockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relly_lock_wait_seconds",
			Help:    "Time spent waiting to acquire an object lock.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeadlocksTotal counts transactions victimized by deadlock detection.
	DeadlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relly_deadlocks_total",
			Help: "Total number of transactions failed with DEADLOCK.",
		},
		[]string{"policy"}, // requester_victim | deterministic_victim | timeout
	)

	// TransactionsTotal counts transactions by terminal outcome.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relly_transactions_total",
			Help: "Total number of transactions by terminal outcome.",
		},
		[]string{"outcome"}, // committed | aborted
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		CacheResidentEntries,
		LockWaitSeconds,
		DeadlocksTotal,
		TransactionsTotal,
	)
}
