package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "costrelay_upstream_latency_seconds",
		Help:    "Time spent waiting on Cost Explorer GetCostAndUsage calls",
		Buckets: prometheus.DefBuckets,
	})
	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costrelay_upstream_errors_total",
		Help: "Failed Cost Explorer calls by error kind",
	}, []string{"kind"})
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "costrelay_upstream_breaker_state",
		Help: "Cost Explorer circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)
