// Package observability provides OpenTelemetry tracing, metrics, audit
// logging and log setup for kbadmin.
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the kbadmin tracer.
	TracerName = "github.com/efebarandurmaz/kbadmin"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "kbadmin")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "kbadmin",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for kbadmin operations.
const (
	SpanKindReconcile = "reconcile"
	SpanKindApply     = "apply"
	SpanKindStore     = "store"
	SpanKindHTTP      = "http"
)

// StartReconcileSpan starts a span covering the planning of one run.
func StartReconcileSpan(ctx context.Context, source, destination string, key []string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "reconcile.plan",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kbadmin.span.kind", SpanKindReconcile),
			attribute.String("reconcile.source", source),
			attribute.String("reconcile.destination", destination),
			attribute.String("reconcile.key", strings.Join(key, ",")),
		),
	)
}

// RecordReconcileSummary records the outcome counts of a plan on a span.
func RecordReconcileSummary(span trace.Span, matched, unchanged, skipped, planned int) {
	span.SetAttributes(
		attribute.Int("reconcile.matched", matched),
		attribute.Int("reconcile.unchanged", unchanged),
		attribute.Int("reconcile.skipped", skipped),
		attribute.Int("reconcile.planned_documents", planned),
	)
}

// StartApplySpan starts a span for writing a plan to a collection.
func StartApplySpan(ctx context.Context, collection string, documents int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "reconcile.apply",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kbadmin.span.kind", SpanKindApply),
			attribute.String("apply.collection", collection),
			attribute.Int("apply.documents", documents),
		),
	)
}

// RecordApplyResult records how many documents a write touched.
func RecordApplyResult(span trace.Span, updated int) {
	span.SetAttributes(attribute.Int("apply.updated", updated))
}

// StartStoreSpan starts a client span for a store call.
func StartStoreSpan(ctx context.Context, backend, operation, collection string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kbadmin.span.kind", SpanKindStore),
			attribute.String("store.backend", backend),
			attribute.String("store.collection", collection),
		),
	)
}

// StartHTTPSpan starts a server span for an explorer request.
func StartHTTPSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("kbadmin.span.kind", SpanKindHTTP),
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
