// Package metrics exposes engine activity as Prometheus instruments: flush
// and compaction counts, WAL sync counts, and block-cache hit rate. It
// observes the engine purely through the hooks internal/base.EventListener
// already exposes and the counters cache.BlockCache already tracks, so
// wiring it in never requires the storage layer to import this package.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lsmredis/lsmredis/internal/base"
)

// CacheStats is the subset of cache.BlockCache's counters the hit-rate
// gauge needs; satisfied by *cache.BlockCache without an import cycle.
type CacheStats interface {
	Hits() uint64
	Misses() uint64
}

// Collector holds every Prometheus instrument this package registers.
type Collector struct {
	flushesTotal     prometheus.Counter
	flushBytesTotal  prometheus.Counter
	compactionsTotal *prometheus.CounterVec
	walSyncsTotal    prometheus.Counter
	cacheHitRatio    prometheus.GaugeFunc
	cacheHits        prometheus.CounterFunc
	cacheMisses      prometheus.CounterFunc

	cache atomic.Pointer[CacheStats]
}

// SetCache attaches the block cache to observe, once one exists. Safe to
// call after NewCollector, since a DB's block cache isn't constructed
// until lsm.Open returns.
func (c *Collector) SetCache(cache CacheStats) {
	c.cache.Store(&cache)
}

func (c *Collector) cacheStats() CacheStats {
	if p := c.cache.Load(); p != nil {
		return *p
	}
	return noCache{}
}

// NewCollector builds and registers a Collector's instruments against reg.
// cache may be nil if no block cache is available yet; attach one later
// with SetCache.
func NewCollector(reg prometheus.Registerer, cache CacheStats) *Collector {
	if cache == nil {
		cache = noCache{}
	}
	c := &Collector{
		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmredis",
			Subsystem: "lsm",
			Name:      "flushes_total",
			Help:      "Number of memtable flushes to L0 completed.",
		}),
		flushBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmredis",
			Subsystem: "lsm",
			Name:      "flush_input_entries_total",
			Help:      "Cumulative number of memtable entries written out by flushes.",
		}),
		compactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsmredis",
			Subsystem: "lsm",
			Name:      "compactions_total",
			Help:      "Number of compactions completed, by source level.",
		}, []string{"level"}),
		walSyncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lsmredis",
			Subsystem: "lsm",
			Name:      "wal_syncs_total",
			Help:      "Number of WAL fsync calls completed.",
		}),
	}
	c.SetCache(cache)
	c.cacheHits = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "lsmredis",
		Subsystem: "cache",
		Name:      "block_hits_total",
		Help:      "Cumulative block cache hits.",
	}, func() float64 { return float64(c.cacheStats().Hits()) })
	c.cacheMisses = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "lsmredis",
		Subsystem: "cache",
		Name:      "block_misses_total",
		Help:      "Cumulative block cache misses.",
	}, func() float64 { return float64(c.cacheStats().Misses()) })
	c.cacheHitRatio = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lsmredis",
		Subsystem: "cache",
		Name:      "block_hit_ratio",
		Help:      "Block cache hit ratio over its lifetime, in [0,1].",
	}, func() float64 {
		stats := c.cacheStats()
		hits, misses := stats.Hits(), stats.Misses()
		total := hits + misses
		if total == 0 {
			return 0
		}
		return float64(hits) / float64(total)
	})

	if reg != nil {
		reg.MustRegister(
			c.flushesTotal, c.flushBytesTotal, c.compactionsTotal, c.walSyncsTotal,
			c.cacheHits, c.cacheMisses, c.cacheHitRatio,
		)
	}
	return c
}

type noCache struct{}

func (noCache) Hits() uint64   { return 0 }
func (noCache) Misses() uint64 { return 0 }

// EventListener returns hooks suitable for assignment to
// base.Options.EventListener, wiring flush/compaction/WAL-sync activity
// into this Collector's counters.
func (c *Collector) EventListener() *base.EventListener {
	return &base.EventListener{
		FlushEnd: func(info base.FlushInfo) {
			c.flushesTotal.Inc()
			c.flushBytesTotal.Add(float64(info.Input))
		},
		CompactionEnd: func(info base.CompactionInfo) {
			c.compactionsTotal.WithLabelValues(levelLabel(info.InputLevel)).Inc()
		},
		WALSynced: func() {
			c.walSyncsTotal.Inc()
		},
	}
}

func levelLabel(level int) string {
	if level < 0 {
		return "memtable"
	}
	return strconv.Itoa(level)
}
