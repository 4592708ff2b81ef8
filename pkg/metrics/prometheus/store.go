// Package prometheus implements the metric sinks the instrumented packages
// accept, backed by the shared registry in pkg/metrics. Every constructor
// returns nil while metrics are off; the sinks also tolerate nil receivers
// so a typed nil flowing through an interface stays harmless.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docket-io/docket/pkg/docstore"
	"github.com/docket-io/docket/pkg/metrics"
)

// storeMetrics is the Prometheus implementation of docstore.StoreMetrics.
type storeMetrics struct {
	operationsTotal      *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	cacheLookups         *prometheus.CounterVec
	cacheEvictions       prometheus.Counter
	walAppends           prometheus.Counter
	walLastSeq           prometheus.Gauge
	indexRewrites        prometheus.Counter
	indexRewriteDuration prometheus.Histogram
	indexEntries         prometheus.Gauge
	compactionPasses     prometheus.Counter
	compactionRepairs    *prometheus.CounterVec
	compactionDuration   prometheus.Histogram
}

// NewStoreMetrics creates a Prometheus-backed docstore.StoreMetrics.
// Returns nil if metrics are not enabled (InitRegistry not called), which
// the store treats as no instrumentation.
func NewStoreMetrics() docstore.StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_store_operations_total",
				Help: "Total number of record store operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docket_store_operation_duration_milliseconds",
				Help: "Duration of record store operations in milliseconds",
				Buckets: []float64{
					1,    // 1ms - cached reads
					5,    // 5ms - shard reads
					10,   // 10ms
					50,   // 50ms - writes with fsync
					100,  // 100ms
					500,  // 500ms - index rewrites in the path
					1000, // 1s
					5000, // 5s
				},
			},
			[]string{"operation"},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_store_cache_lookups_total",
				Help: "Record cache lookups by result",
			},
			[]string{"result"},
		),
		cacheEvictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docket_store_cache_evictions_total",
				Help: "Total number of record cache evictions",
			},
		),
		walAppends: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docket_store_wal_appends_total",
				Help: "Total number of WAL entries appended",
			},
		),
		walLastSeq: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_store_wal_last_sequence",
				Help: "Sequence number of the most recent WAL entry",
			},
		),
		indexRewrites: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docket_store_index_rewrites_total",
				Help: "Total number of atomic index rewrites",
			},
		),
		indexRewriteDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "docket_store_index_rewrite_duration_milliseconds",
				Help: "Duration of atomic index rewrites in milliseconds",
				Buckets: []float64{
					5,    // 5ms - small indexes
					25,   // 25ms
					100,  // 100ms
					500,  // 500ms
					2500, // 2.5s - large indexes
				},
			},
		),
		indexEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_store_index_entries",
				Help: "Number of records in the index at the last rewrite",
			},
		),
		compactionPasses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docket_store_compaction_passes_total",
				Help: "Total number of compaction passes",
			},
		),
		compactionRepairs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_store_compaction_repairs_total",
				Help: "Compaction repairs by kind (dangling, demoted, orphan, temp)",
			},
			[]string{"kind"},
		),
		compactionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "docket_store_compaction_duration_milliseconds",
				Help: "Duration of compaction passes in milliseconds",
				Buckets: []float64{
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
					60000, // 1m - full scans of large stores
				},
			},
		),
	}
}

func (m *storeMetrics) ObserveOperation(op string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.operationsTotal.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds() * 1000)
}

func (m *storeMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *storeMetrics) RecordCacheEviction(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(count))
}

func (m *storeMetrics) RecordWALAppend(seq uint64) {
	if m == nil {
		return
	}
	m.walAppends.Inc()
	m.walLastSeq.Set(float64(seq))
}

func (m *storeMetrics) RecordIndexRewrite(entries int, duration time.Duration) {
	if m == nil {
		return
	}
	m.indexRewrites.Inc()
	m.indexRewriteDuration.Observe(duration.Seconds() * 1000)
	m.indexEntries.Set(float64(entries))
}

func (m *storeMetrics) RecordCompaction(stats docstore.CompactionStats) {
	if m == nil {
		return
	}

	m.compactionPasses.Inc()
	m.compactionDuration.Observe(stats.Duration.Seconds() * 1000)

	if stats.DanglingRemoved > 0 {
		m.compactionRepairs.WithLabelValues("dangling").Add(float64(stats.DanglingRemoved))
	}
	if stats.Demoted > 0 {
		m.compactionRepairs.WithLabelValues("demoted").Add(float64(stats.Demoted))
	}
	if stats.OrphansRemoved > 0 {
		m.compactionRepairs.WithLabelValues("orphan").Add(float64(stats.OrphansRemoved))
	}
	if stats.TempSwept > 0 {
		m.compactionRepairs.WithLabelValues("temp").Add(float64(stats.TempSwept))
	}
}
