package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses, including stale entries
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheExpired tracks stale entries detected and deleted on read
	CacheExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_cache_expired_total",
			Help: "Total number of stale entries purged on read",
		},
	)

	// CacheEvictions tracks capacity evictions by store
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_evictions_total",
			Help: "Total number of entries evicted by the capacity bound",
		},
		[]string{"store"},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)

	// FetchesTotal tracks cached fetches by outcome
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_fetches_total",
			Help: "Total number of cached fetches by outcome",
		},
		[]string{"outcome"}, // "hit", "network", "shared", "status_error", "transport_error", "parse_error"
	)
)
