package tracing

import (
	"context"
	"errors"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider exporting over OTLP/gRPC. With an
// empty endpoint it leaves the no-op provider in place.
func Setup(ctx context.Context, endpoint, serviceName string, logger *log.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = log.Default()
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		logger.Printf("tracing: disabled (no OTLP endpoint)")
		return func(context.Context) error { return nil }, nil
	}
	if serviceName == "" {
		return nil, errors.New("tracing: service name required")
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	logger.Printf("tracing: exporting to %s", endpoint)
	return provider.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
