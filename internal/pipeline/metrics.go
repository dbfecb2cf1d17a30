package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_jobs_cached_total",
		Help: "Caching jobs that ended with the asset durably stored.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_jobs_failed_total",
		Help: "Caching jobs that exhausted their retry budget.",
	})
	jobAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediacache_job_attempts",
		Help:    "Attempts a job needed before reaching a terminal status.",
		Buckets: []float64{1, 2, 3},
	})
)
