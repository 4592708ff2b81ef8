package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordSpans installs a tracer that keeps ended spans in memory, so
// tests can assert on names and attributes instead of just "does not
// panic".
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	install(tp.Tracer("test"), true)
	t.Cleanup(func() {
		install(noop.NewTracerProvider().Tracer(instrumentationName), false)
	})
	return sr
}

func attrValue(t *testing.T, span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	t.Helper()
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	t.Fatalf("span %s has no attribute %s", span.Name(), key)
	return attribute.Value{}
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, IsEnabled())

	// Spans still work, they just record nothing.
	ctx, span := StartSpan(context.Background(), "store.get")
	span.End()
	assert.Equal(t, "", TraceID(ctx))
}

func TestTracerBeforeInit(t *testing.T) {
	tracerRef.Store(nil)
	t.Cleanup(func() {
		install(noop.NewTracerProvider().Tracer(instrumentationName), false)
	})

	require.NotNil(t, Tracer())
	_, span := StartSpan(context.Background(), "store.get")
	span.End()
}

func TestSubsystemSpanNames(t *testing.T) {
	sr := recordSpans(t)
	ctx := context.Background()

	_, s1 := StartStoreSpan(ctx, "create", "41")
	s1.End()
	_, s2 := StartTaskSpan(ctx, "task", "task-7", TaskFilename("report.pdf"))
	s2.End()
	_, s3 := StartObjstoreSpan(ctx, "put", "payloads/000000-000999/41", Backend("local"))
	s3.End()
	_, s4 := StartRankSpan(ctx, "search", QueryDims(384), QueryLimit(10))
	s4.End()

	spans := sr.Ended()
	require.Len(t, spans, 4)

	assert.Equal(t, "store.create", spans[0].Name())
	assert.Equal(t, "41", attrValue(t, spans[0], attrRecordID).AsString())

	assert.Equal(t, "ingest.task", spans[1].Name())
	assert.Equal(t, "task-7", attrValue(t, spans[1], attrTaskID).AsString())
	assert.Equal(t, "report.pdf", attrValue(t, spans[1], attrTaskFilename).AsString())

	assert.Equal(t, "objstore.put", spans[2].Name())
	assert.Equal(t, "payloads/000000-000999/41", attrValue(t, spans[2], attrKey).AsString())
	assert.Equal(t, "local", attrValue(t, spans[2], attrBackend).AsString())

	assert.Equal(t, "rank.search", spans[3].Name())
	assert.Equal(t, int64(384), attrValue(t, spans[3], attrQueryDims).AsInt64())
	assert.Equal(t, int64(10), attrValue(t, spans[3], attrQueryLimit).AsInt64())
}

func TestStoreSpanWithoutRecordID(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartStoreSpan(context.Background(), "list", "")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	for _, kv := range spans[0].Attributes() {
		assert.NotEqual(t, attrRecordID, kv.Key, "empty record id must not become an attribute")
	}
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := StartStoreSpan(context.Background(), "update", "41")
	RecordError(ctx, errors.New("record 41 not found"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "record 41 not found", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestRecordErrorNil(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := StartStoreSpan(context.Background(), "get", "41")
	RecordError(ctx, nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestSetAttributes(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := StartTaskSpan(context.Background(), "task", "task-7")
	SetAttributes(ctx, Checksum("deadbeef"), RecordSize(2048))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "deadbeef", attrValue(t, spans[0], attrRecordChecksum).AsString())
	assert.Equal(t, int64(2048), attrValue(t, spans[0], attrRecordSize).AsInt64())

	// No active span: must be a no-op, not a panic.
	SetAttributes(context.Background(), RecordID("41"))
}

func TestTraceAndSpanIDs(t *testing.T) {
	recordSpans(t)

	assert.Equal(t, "", TraceID(context.Background()))
	assert.Equal(t, "", SpanID(context.Background()))

	ctx, span := StartStoreSpan(context.Background(), "create", "41")
	defer span.End()

	assert.Len(t, TraceID(ctx), 32)
	assert.Len(t, SpanID(ctx), 16)
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1.0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(2.5).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(-1).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestAttributeHelpers(t *testing.T) {
	cases := []struct {
		kv   attribute.KeyValue
		key  string
		want string
	}{
		{RecordID("41"), "record.id", "41"},
		{Checksum("deadbeef"), "record.checksum", "deadbeef"},
		{Folder("invoices/2026"), "record.folder", "invoices/2026"},
		{RecordStatus("ready"), "record.status", "ready"},
		{RecordSize(1048576), "record.size", "1048576"},
		{TaskID("task-123"), "task.id", "task-123"},
		{TaskFilename("report.pdf"), "task.filename", "report.pdf"},
		{TaskAttempt(3), "task.attempt", "3"},
		{TaskStatus("succeeded"), "task.status", "succeeded"},
		{Backend("s3_compatible"), "storage.backend", "s3_compatible"},
		{Bucket("docket-payloads"), "storage.bucket", "docket-payloads"},
		{StorageKey("payloads/000000-000999/41"), "storage.key", "payloads/000000-000999/41"},
		{QueryDims(384), "rank.dims", "384"},
		{QueryLimit(10), "rank.limit", "10"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.key, string(tc.kv.Key))
		assert.Equal(t, tc.want, tc.kv.Value.Emit())
	}
}
