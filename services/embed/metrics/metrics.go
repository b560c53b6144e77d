// Package metrics registers the Prometheus collectors exposed at /metrics
// (SPEC_FULL.md §6, additive to spec.md's HTTP surface). Using
// client_golang directly (rather than routing these through the OTel
// metrics SDK also present in this module) avoids running two parallel
// metrics pipelines for the same numbers — see DESIGN.md.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric the core publishes. Construct once at
// startup with New and pass it down to the components that update it.
type Collectors struct {
	EmbedRequests   *prometheus.CounterVec
	EmbedDuration   prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	BatchesSent     prometheus.Counter
	WorkerCrashes   prometheus.Counter
	PoolQueueDepth  prometheus.Gauge
	CacheLiveCount  prometheus.Gauge
	RegisteredClients prometheus.Gauge
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs in the same process.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		EmbedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedcore",
			Name:      "embed_requests_total",
			Help:      "Total /embed requests, partitioned by outcome.",
		}, []string{"outcome"}),
		EmbedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "embedcore",
			Name:      "embed_duration_seconds",
			Help:      "Latency of /embed requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embedcore",
			Name:      "cache_hits_total",
			Help:      "Fingerprints served from the cache without a worker dispatch.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embedcore",
			Name:      "cache_misses_total",
			Help:      "Fingerprints that required computing a vector.",
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embedcore",
			Name:      "batches_sent_total",
			Help:      "Batches submitted to the worker pool.",
		}),
		WorkerCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "embedcore",
			Name:      "worker_crashes_total",
			Help:      "Worker crash/respawn events.",
		}),
		PoolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "embedcore",
			Name:      "pool_queue_depth",
			Help:      "Pending batches not yet dispatched to a worker.",
		}),
		CacheLiveCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "embedcore",
			Name:      "cache_live_entries",
			Help:      "Live entries in the on-disk cache.",
		}),
		RegisteredClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "embedcore",
			Name:      "registered_clients",
			Help:      "Currently registered clients.",
		}),
	}

	reg.MustRegister(
		c.EmbedRequests,
		c.EmbedDuration,
		c.CacheHits,
		c.CacheMisses,
		c.BatchesSent,
		c.WorkerCrashes,
		c.PoolQueueDepth,
		c.CacheLiveCount,
		c.RegisteredClients,
	)
	return c
}
