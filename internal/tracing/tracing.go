// Package tracing sets up minimal OTLP tracing for the service.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "researchd"

var tracer oteltrace.Tracer

// Initialize sets up the OTLP exporter and global tracer provider. With
// enabled false it installs a no-op tracer handle so Start never panics.
func Initialize(enabled bool, otlpEndpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	tracer = otel.Tracer(serviceName)
	if !enabled {
		logger.Info("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized", zap.String("endpoint", otlpEndpoint))
	return tp.Shutdown, nil
}

// Start creates a span with the given name.
func Start(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(serviceName)
	}
	return tracer.Start(ctx, spanName)
}
