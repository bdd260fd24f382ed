// Package tracing installs the OpenTelemetry tracer provider used by the API
// and calculation spans.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(ctx context.Context) error

// Sampler returns the sampler selected by cfg.SamplingStrategy.
func Sampler(cfg domain.TracingConfig) sdktrace.Sampler {
	switch cfg.SamplingStrategy {
	case "never":
		return sdktrace.NeverSample()
	case "probability":
		rate := cfg.SamplingRate
		if rate == 0 {
			rate = 1.0
		}
		return sdktrace.TraceIDRatioBased(rate)
	default:
		return sdktrace.AlwaysSample()
	}
}

// Setup installs the global propagator and, when tracing is enabled, a tracer
// provider exporting over OTLP/HTTP. With tracing disabled the global no-op
// provider stays in place and the returned ShutdownFunc does nothing.
func Setup(ctx context.Context, cfg domain.TracingConfig, version string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := newProvider(cfg, version, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	slog.Info("tracing enabled",
		"endpoint", cfg.Endpoint,
		"sampling_strategy", cfg.SamplingStrategy,
	)
	return provider.Shutdown, nil
}

func newProvider(cfg domain.TracingConfig, version string, processor sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)
	return sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(cfg))),
	)
}
