package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache-level Prometheus metrics. All metrics carry a "tier" label so the
// local and remote tiers can be distinguished in dashboards and alerts.
var (
	// HitsTotal counts successful cache lookups per tier.
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits.",
		},
		[]string{"tier"},
	)

	// MissesTotal counts failed cache lookups per tier.
	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses.",
		},
		[]string{"tier"},
	)

	// SetsTotal counts entry writes per tier.
	SetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_sets_total",
			Help: "Total number of cache writes.",
		},
		[]string{"tier"},
	)

	// DeletesTotal counts entry removals per tier.
	DeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_deletes_total",
			Help: "Total number of cache deletes.",
		},
		[]string{"tier"},
	)

	// EvictionsTotal counts evicted entries per tier.
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of entries evicted from the cache.",
		},
		[]string{"tier"},
	)

	// InvalidationsTotal counts entries removed by tag or dependency
	// invalidation.
	InvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total number of entries removed by invalidation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HitsTotal,
		MissesTotal,
		SetsTotal,
		DeletesTotal,
		EvictionsTotal,
		InvalidationsTotal,
	)
}

// tierEntriesCollector is a Prometheus Collector that lazily reports the
// current number of entries for a single tier by calling lenFunc at scrape
// time. This avoids stale counts caused by TTL-based expiry in external
// backends like Redis.
type tierEntriesCollector struct {
	desc    *prometheus.Desc
	lenFunc func() int
}

func (c *tierEntriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *tierEntriesCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.lenFunc()))
}

var (
	entriesCollectorMu sync.Mutex
	entriesCollectors  = make(map[Tier]*tierEntriesCollector)
	// entriesReg is the Prometheus registerer used for entries collectors.
	// Exposed as a variable so tests can substitute an isolated registry.
	entriesReg prometheus.Registerer = prometheus.DefaultRegisterer
)

// registerEntriesCollector registers a per-tier entries collector that lazily
// reads the tier size at scrape time. If a collector for the same tier
// already exists it is replaced, making it safe to call when a new
// coordinator is created over a tier that was previously registered
// (e.g., in tests).
func registerEntriesCollector(tier Tier, lenFunc func() int) *tierEntriesCollector {
	desc := prometheus.NewDesc(
		"cache_entries",
		"Current number of entries in the cache.",
		nil,
		prometheus.Labels{"tier": string(tier)},
	)
	c := &tierEntriesCollector{desc: desc, lenFunc: lenFunc}

	entriesCollectorMu.Lock()
	defer entriesCollectorMu.Unlock()

	if old, ok := entriesCollectors[tier]; ok {
		entriesReg.Unregister(old)
	}
	entriesCollectors[tier] = c
	_ = entriesReg.Register(c)
	return c
}

// unregisterEntriesCollector removes the entries collector for the given tier.
func unregisterEntriesCollector(tier Tier) {
	entriesCollectorMu.Lock()
	defer entriesCollectorMu.Unlock()

	if c, ok := entriesCollectors[tier]; ok {
		entriesReg.Unregister(c)
		delete(entriesCollectors, tier)
	}
}
