package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "costrelay_cache_hits_total",
		Help: "Number of summaries served from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "costrelay_cache_misses_total",
		Help: "Number of cache misses that required an upstream fetch",
	})
	coalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "costrelay_coalesced_requests_total",
		Help: "Number of misses that shared an in-flight upstream fetch",
	})
)
