package logger

import "context"

type scopeKey struct{}

// LogContext carries the correlation fields for one operation: an ops
// request, an ingestion task, or a traced store call. The *Ctx logging
// functions prepend whichever fields are set, so concurrent operations
// stay attributable in shared output.
type LogContext struct {
	TraceID   string
	SpanID    string
	Operation string
	RecordID  string
	TaskID    string
	ClientIP  string
}

// WithContext attaches lc to ctx. Callers install it once at the edge of
// an operation; everything underneath logs through the *Ctx functions.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, scopeKey{}, lc)
}

// FromContext returns the LogContext attached to ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(scopeKey{}).(*LogContext)
	return lc
}
