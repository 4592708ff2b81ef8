package ingest

import "time"

// Metrics receives pipeline measurements. Implementations must be safe for
// concurrent use. A nil Metrics disables instrumentation with zero
// overhead; every call site checks for nil.
type Metrics interface {
	// RecordSubmit records one submit attempt and whether the queue
	// accepted it.
	RecordSubmit(accepted bool)

	// ObserveTask records one terminal task outcome ("succeeded",
	// "failed", "duplicate") with the time from submit to completion.
	ObserveTask(outcome string, duration time.Duration)

	// RecordRetry records one retry of a transiently failed task.
	RecordRetry()

	// SetQueueDepth records the current number of queued tasks.
	SetQueueDepth(pending int)

	// SetWorkers records the current worker count.
	SetWorkers(count int)
}
