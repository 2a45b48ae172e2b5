package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stellar-hq/hermes/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
)

// Standard span names for the request pipeline stages.
const (
	SpanAuth         = "auth"
	SpanRateLimit    = "rate_limit"
	SpanRouting      = "routing"
	SpanProxyForward = "proxy_forward"
)

// Tracer wraps the OpenTelemetry tracer and retains a bounded buffer of
// completed request traces for the analytics endpoint.
type Tracer struct {
	config   *config.TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
	retained *traceBuffer
}

// New creates a Tracer from the given configuration. When tracing is
// disabled a noop tracer is returned that adds negligible overhead.
//
// The tracer must be shut down when no longer needed:
//
//	defer tracer.Shutdown(context.Background())
func New(cfg *config.TracingConfig) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}

	t := &Tracer{
		config:   cfg,
		enabled:  cfg.Enabled,
		retained: newTraceBuffer(cfg.RetainedTraces),
	}

	if !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer("hermes")
		return t, nil
	}

	exporter, err := newOTLPExporter(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	t.tracer = t.provider.Tracer("hermes")

	return t, nil
}

// Start creates a new span linked to the parent span in ctx. The returned
// span must be ended when the operation completes.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled reports whether spans are being exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Retain records a completed request trace summary for the analytics
// endpoint. The buffer is bounded; oldest entries are evicted.
func (t *Tracer) Retain(summary TraceSummary) {
	t.retained.add(summary)
}

// RetainedTraces returns a snapshot of the completed-trace buffer, newest
// last.
func (t *Tracer) RetainedTraces() []TraceSummary {
	return t.retained.snapshot()
}

func newOTLPExporter(cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}
