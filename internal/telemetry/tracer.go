package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. "record." keys describe store rows, "task." keys
// the ingestion pipeline, "storage." keys the object backend, "rank."
// keys similarity queries.
var (
	attrRecordID       = attribute.Key("record.id")
	attrRecordChecksum = attribute.Key("record.checksum")
	attrRecordFolder   = attribute.Key("record.folder")
	attrRecordStatus   = attribute.Key("record.status")
	attrRecordSize     = attribute.Key("record.size")

	attrTaskID       = attribute.Key("task.id")
	attrTaskFilename = attribute.Key("task.filename")
	attrTaskAttempt  = attribute.Key("task.attempt")
	attrTaskStatus   = attribute.Key("task.status")

	attrBackend = attribute.Key("storage.backend")
	attrBucket  = attribute.Key("storage.bucket")
	attrKey     = attribute.Key("storage.key")

	attrQueryDims  = attribute.Key("rank.dims")
	attrQueryLimit = attribute.Key("rank.limit")
)

// RecordID tags a span with the record it operates on.
func RecordID(id string) attribute.KeyValue { return attrRecordID.String(id) }

// Checksum tags a span with a payload digest.
func Checksum(sum string) attribute.KeyValue { return attrRecordChecksum.String(sum) }

// Folder tags a span with a record folder path.
func Folder(folder string) attribute.KeyValue { return attrRecordFolder.String(folder) }

// RecordStatus tags a span with a record lifecycle status.
func RecordStatus(status string) attribute.KeyValue { return attrRecordStatus.String(status) }

// RecordSize tags a span with a payload size in bytes.
func RecordSize(size int64) attribute.KeyValue { return attrRecordSize.Int64(size) }

// TaskID tags a span with an ingestion task id.
func TaskID(id string) attribute.KeyValue { return attrTaskID.String(id) }

// TaskFilename tags a span with the uploaded filename.
func TaskFilename(name string) attribute.KeyValue { return attrTaskFilename.String(name) }

// TaskAttempt tags a span with the processing attempt number.
func TaskAttempt(attempt int) attribute.KeyValue { return attrTaskAttempt.Int(attempt) }

// TaskStatus tags a span with the task's terminal status.
func TaskStatus(status string) attribute.KeyValue { return attrTaskStatus.String(status) }

// Backend tags a span with the object storage backend name.
func Backend(backend string) attribute.KeyValue { return attrBackend.String(backend) }

// Bucket tags a span with the S3 bucket in use.
func Bucket(name string) attribute.KeyValue { return attrBucket.String(name) }

// StorageKey tags a span with an object key.
func StorageKey(key string) attribute.KeyValue { return attrKey.String(key) }

// QueryDims tags a span with a ranking query's dimensionality.
func QueryDims(dims int) attribute.KeyValue { return attrQueryDims.Int(dims) }

// QueryLimit tags a span with a ranking result limit.
func QueryLimit(limit int) attribute.KeyValue { return attrQueryLimit.Int(limit) }

// StartStoreSpan opens a span named store.<op>. A non-empty record id is
// attached up front so failed operations still carry it.
func StartStoreSpan(ctx context.Context, op, recordID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if recordID != "" {
		attrs = append([]attribute.KeyValue{RecordID(recordID)}, attrs...)
	}
	return StartSpan(ctx, "store."+op, trace.WithAttributes(attrs...))
}

// StartTaskSpan opens a span named ingest.<op> carrying the task id.
func StartTaskSpan(ctx context.Context, op, taskID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{TaskID(taskID)}, attrs...)
	return StartSpan(ctx, "ingest."+op, trace.WithAttributes(attrs...))
}

// StartObjstoreSpan opens a span named objstore.<op> carrying the object
// key.
func StartObjstoreSpan(ctx context.Context, op, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{StorageKey(key)}, attrs...)
	return StartSpan(ctx, "objstore."+op, trace.WithAttributes(attrs...))
}

// StartRankSpan opens a span named rank.<op>.
func StartRankSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "rank."+op, trace.WithAttributes(attrs...))
}
