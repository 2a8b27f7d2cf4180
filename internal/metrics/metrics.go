// Package metrics provides Prometheus metrics for fixedtree.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for fixedtree and implements
// store.Stats, so a single instance can be handed straight to
// store.Options.Stats / btree.Options.Stats.
type Metrics struct {
	// Page store metrics
	PagesAllocatedTotal prometheus.Counter
	PagesFreedTotal     prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	FlushesTotal        prometheus.Counter
	PageCountGauge      prometheus.Gauge

	// Tree operation metrics
	BtreeOperationsTotal   *prometheus.CounterVec
	BtreeOperationDuration *prometheus.HistogramVec
	BtreeDepthGauge        prometheus.Gauge
	BtreeKeysGauge         prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.PagesAllocatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixedtree_pages_allocated_total",
			Help: "Total number of pages allocated from the store.",
		},
	)

	m.PagesFreedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixedtree_pages_freed_total",
			Help: "Total number of pages returned to the freelist.",
		},
	)

	m.CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixedtree_cache_hits_total",
			Help: "Total number of page cache hits.",
		},
	)

	m.CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixedtree_cache_misses_total",
			Help: "Total number of page cache misses.",
		},
	)

	m.FlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixedtree_flushes_total",
			Help: "Total number of durable flushes to disk.",
		},
	)

	m.PageCountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixedtree_page_count",
			Help: "Current number of pages in the backing file.",
		},
	)

	m.BtreeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixedtree_btree_operations_total",
			Help: "Total number of tree-level key operations.",
		},
		[]string{"operation", "status"},
	)

	m.BtreeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixedtree_btree_operation_duration_seconds",
			Help:    "Duration of tree-level key operations in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	m.BtreeDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixedtree_btree_depth",
			Help: "Current depth of the tree, in node levels above the leaves.",
		},
	)

	m.BtreeKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixedtree_btree_keys",
			Help: "Current number of keys stored in the tree.",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixedtree_uptime_seconds",
			Help: "Process uptime in seconds.",
		},
	)

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// PageAllocated implements store.Stats.
func (m *Metrics) PageAllocated() {
	m.PagesAllocatedTotal.Inc()
	m.PageCountGauge.Inc()
}

// PageFreed implements store.Stats.
func (m *Metrics) PageFreed() {
	m.PagesFreedTotal.Inc()
}

// CacheHit implements store.Stats.
func (m *Metrics) CacheHit() {
	m.CacheHitsTotal.Inc()
}

// CacheMiss implements store.Stats.
func (m *Metrics) CacheMiss() {
	m.CacheMissesTotal.Inc()
}

// Flushed implements store.Stats.
func (m *Metrics) Flushed() {
	m.FlushesTotal.Inc()
}

// RecordBtreeOperation records a Find/Add/Remove/Flush-style tree
// operation with its outcome and latency.
func (m *Metrics) RecordBtreeOperation(operation string, status string, duration time.Duration) {
	m.BtreeOperationsTotal.WithLabelValues(operation, status).Inc()
	m.BtreeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateTreeShape updates the depth and key-count gauges after an
// operation that may have changed the tree's shape.
func (m *Metrics) UpdateTreeShape(depth int, keyCount int) {
	m.BtreeDepthGauge.Set(float64(depth))
	m.BtreeKeysGauge.Set(float64(keyCount))
}
