package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig selects the span exporter: an empty Endpoint falls back to
// the stdout exporter, an OTLP/gRPC endpoint otherwise (no Paraver/Extrae
// format, spec.md Non-goals).
type TracingConfig struct {
	ServiceName string
	Endpoint    string // empty selects stdouttrace
}

// InitTracing installs a global TracerProvider and returns its shutdown
// function.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	exp, err := buildExporter(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// EventSink is SPEC_FULL's tracing hook interface: the runtime always
// emits some trace events internally, but this package never ties that to
// a Paraver/Extrae encoder (spec.md Non-goals) — only OTel spans.
type EventSink interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

// OTelEventSink is the default EventSink, backed by the global tracer
// provider installed by InitTracing.
type OTelEventSink struct {
	tracerName string
}

func NewOTelEventSink(tracerName string) *OTelEventSink {
	return &OTelEventSink{tracerName: tracerName}
}

func (s *OTelEventSink) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(s.tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// NoopEventSink discards every span request; used in tests and in
// deployments with tracing disabled.
type NoopEventSink struct{}

func (NoopEventSink) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return trace.NewNoopTracerProvider().Tracer("noop").Start(ctx, name)
}
