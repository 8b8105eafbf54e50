package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Enabled        bool    `json:"enabled"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pipewatch",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		JaegerEndpoint: "http://localhost:14268/api/traces",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// TracingService manages distributed tracing
type TracingService struct {
	tracer   oteltrace.Tracer
	config   *Config
	provider *trace.TracerProvider
}

// NewTracingService creates a new tracing service
func NewTracingService(config *Config) (*TracingService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &TracingService{
			tracer: otel.Tracer("noop"),
			config: config,
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingService{
		tracer:   tp.Tracer(config.ServiceName),
		config:   config,
		provider: tp,
	}, nil
}

// StartCheckSpan starts a span for one monitoring check run
func (ts *TracingService) StartCheckSpan(ctx context.Context, checkName, connector string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, "check.run",
		oteltrace.WithAttributes(
			attribute.String("check.name", checkName),
			attribute.String("check.connector", connector),
		),
	)
}

// StartQuerySpan starts a span for one connector query
func (ts *TracingService) StartQuerySpan(ctx context.Context, connector, operation string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, "connector.query",
		oteltrace.WithAttributes(
			attribute.String("connector.name", connector),
			attribute.String("connector.operation", operation),
		),
	)
}

// EndSpan finalizes a span with its outcome
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the tracer provider
func (ts *TracingService) Shutdown(ctx context.Context) error {
	if ts.provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ts.provider.Shutdown(ctx)
}
