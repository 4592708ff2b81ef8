// Package telemetry wires distributed tracing and continuous profiling
// into the daemon. Spans are no-ops until Init enables the OTLP
// exporter, so instrumented code never has to check whether tracing is
// on.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// instrumentationName identifies this tracing scope, per the OTel
// convention of using the instrumenting package's import path.
const instrumentationName = "github.com/docket-io/docket/internal/telemetry"

const shutdownGrace = 5 * time.Second

var (
	tracerRef atomic.Pointer[trace.Tracer]
	active    atomic.Bool
)

func install(t trace.Tracer, enabled bool) {
	tracerRef.Store(&t)
	active.Store(enabled)
}

// Init configures the OpenTelemetry SDK. With cfg.Enabled false it
// installs a no-op tracer and returns a no-op shutdown. Otherwise it
// connects the OTLP/gRPC exporter and returns a shutdown function that
// flushes buffered spans; callers run it on daemon exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		install(noop.NewTracerProvider().Tracer(instrumentationName), false)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	install(tp.Tracer(instrumentationName), true)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	return exporter, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("describing service resource: %w", err)
	}
	return res, nil
}

// samplerFor clamps the configured rate: everything at >= 1, nothing at
// <= 0, trace-id ratio sampling in between.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Tracer returns the process tracer. Before Init it is a no-op.
func Tracer() trace.Tracer {
	if p := tracerRef.Load(); p != nil {
		return *p
	}
	return noop.NewTracerProvider().Tracer(instrumentationName)
}

// IsEnabled reports whether Init connected a real exporter.
func IsEnabled() bool {
	return active.Load()
}

// StartSpan opens a span on the process tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError marks the current span failed and records err on it. A nil
// err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	sp := trace.SpanFromContext(ctx)
	sp.RecordError(err)
	sp.SetStatus(codes.Error, err.Error())
}

// SetAttributes adds attributes to the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the active trace id, or "" when no sampled span is in
// ctx. Log lines carry it so traces and logs cross-reference.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID returns the active span id, or "".
func SpanID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}
