// Package tracing provides distributed tracing over OpenTelemetry. One
// span covers each inbound HTTP request; child spans cover orchestrator
// phases, backend model calls, and KIP tool executions.
//
// If no OTLP endpoint is configured the tracer is a no-op: spans are
// created but never exported, so call sites never need a nil check.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer.
type Config struct {
	// ServiceName identifies this service in exported traces.
	ServiceName string

	// Environment is the deployment tier recorded on every span.
	Environment string

	// Endpoint is the OTLP gRPC collector endpoint (host:port). Empty
	// disables export entirely.
	Endpoint string

	// SamplingRate is the fraction of traces recorded, (0,1]. Zero means
	// record everything.
	SamplingRate float64

	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// Tracer is the process-wide tracing handle. A nil *Tracer is valid and
// produces non-recording spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer and returns it with a shutdown function that flushes
// buffered spans; the shutdown function is never nil. With an empty
// Endpoint, or if the exporter cannot be constructed, the returned Tracer
// records nothing.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown
}

func (t *Tracer) inner() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("orchestrator")
	}
	return t.tracer
}

// Start opens a span named name as a child of whatever span ctx carries.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.inner().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartHTTPRequest opens a server-kind span for one inbound HTTP request.
func (t *Tracer) StartHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.inner().Start(ctx, fmt.Sprintf("http.%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
}

// StartPhase opens a span for one orchestrator phase.
func (t *Tracer) StartPhase(ctx context.Context, phase, requestID string) (context.Context, trace.Span) {
	return t.inner().Start(ctx, fmt.Sprintf("phase.%s", phase),
		trace.WithAttributes(
			attribute.String("orchestrator.phase", phase),
			attribute.String("request.id", requestID),
		))
}

// StartBackendCall opens a client-kind span for one model-backend call.
func (t *Tracer) StartBackendCall(ctx context.Context, alias string) (context.Context, trace.Span) {
	return t.inner().Start(ctx, fmt.Sprintf("llm.%s", alias),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.alias", alias)))
}

// StartToolExecution opens a span for one KIP tool execution.
func (t *Tracer) StartToolExecution(ctx context.Context, agentID, toolName string) (context.Context, trace.Span) {
	return t.inner().Start(ctx, fmt.Sprintf("tool.%s", toolName),
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("agent.id", agentID),
		))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the active trace id in ctx, or "" when none is recording.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
