package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tierHits tracks cache hits by tier (l1, l2, l3).
	tierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golf_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// tierMisses tracks cache misses by tier.
	tierMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golf_cache_misses_total",
			Help: "Total number of cache misses by tier",
		},
		[]string{"tier"},
	)

	// tierEvictions tracks policy evictions by tier.
	tierEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golf_cache_evictions_total",
			Help: "Total number of cache evictions by tier",
		},
		[]string{"tier"},
	)

	// tierEntries tracks the current entry count by tier.
	tierEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golf_cache_entries",
			Help: "Current number of cache entries by tier",
		},
		[]string{"tier"},
	)

	// cachePromotions tracks promotion writes by destination tier.
	cachePromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golf_cache_promotions_total",
			Help: "Total number of promotion writes by destination tier",
		},
		[]string{"tier"},
	)

	// cacheInvalidations counts keys removed by pattern invalidation.
	cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "golf_cache_invalidated_keys_total",
			Help: "Total number of keys removed by pattern invalidation",
		},
	)

	// cacheErrors tracks tier operation errors.
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golf_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete"
	)
)
