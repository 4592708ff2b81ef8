package objstore

import "time"

// Metrics receives object storage measurements. Implementations must be
// safe for concurrent use. A nil Metrics disables instrumentation with zero
// overhead; every call site checks for nil.
type Metrics interface {
	// ObserveOperation records one backend operation with its outcome
	// ("ok" or the error code string) and duration.
	ObserveOperation(backend, op, outcome string, duration time.Duration)

	// RecordBytes records payload bytes moved in the given direction
	// ("read" or "write").
	RecordBytes(backend, direction string, bytes int64)

	// RecordRetry records one retry of a transient backend failure.
	RecordRetry(backend, op string)
}
