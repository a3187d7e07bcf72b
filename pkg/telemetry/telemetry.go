package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Jakedismo/ouroboros-code-sub001"

// Tracer returns the module tracer. Until Init installs a provider this is a
// no-op tracer, so library code can create spans unconditionally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ShutdownFunc flushes and stops the installed tracer provider.
type ShutdownFunc func(context.Context) error

// Init installs an OTLP/HTTP trace exporter behind a batching span processor.
// The exporter endpoint and headers come from the standard OTEL_EXPORTER_OTLP_*
// environment variables. When enabled is false nothing is installed and the
// returned shutdown is a no-op.
func Init(ctx context.Context, serviceName string, enabled bool) (ShutdownFunc, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(provider)

	slog.Debug("Tracing enabled", "service", serviceName, "exporter", "otlp-http")

	return provider.Shutdown, nil
}
