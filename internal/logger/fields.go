package logger

// Field keys injected by the *Ctx logging functions. They lead every
// line of an operation, so log aggregation can group by any of them
// without knowing which component wrote the line.
const (
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyOperation = "operation"
	KeyRecordID  = "record_id"
	KeyTaskID    = "task_id"
	KeyClientIP  = "client_ip"
)
