package docstore

import "time"

// StoreMetrics receives store-level measurements. Implementations must be
// safe for concurrent use. A nil StoreMetrics disables instrumentation with
// zero overhead; every call site checks for nil.
//
// The Prometheus implementation lives in pkg/metrics/prometheus. Keeping
// the interface here lets the store stay free of any metrics backend
// dependency.
type StoreMetrics interface {
	// ObserveOperation records one public store operation with its outcome
	// code ("ok" or the error code string) and duration.
	ObserveOperation(op string, outcome string, duration time.Duration)

	// RecordCacheLookup records a record-cache hit or miss.
	RecordCacheLookup(hit bool)

	// RecordCacheEviction records evicted cache entries.
	RecordCacheEviction(count int)

	// RecordWALAppend records an appended WAL entry and its sequence.
	RecordWALAppend(seq uint64)

	// RecordIndexRewrite records an atomic index rewrite.
	RecordIndexRewrite(entries int, duration time.Duration)

	// RecordCompaction records the counters of one compaction pass.
	RecordCompaction(stats CompactionStats)
}
