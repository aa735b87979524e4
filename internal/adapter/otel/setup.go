// Package otel wires OpenTelemetry tracing and metrics for the dispatcher:
// provider setup for OTLP gRPC or Prometheus export, dispatch metric
// instruments, dispatch spans and the HTTP server middleware.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Strob0t/webmvc/internal/config"
)

// ShutdownFunc flushes and shuts down the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Telemetry is the result of Setup.
type Telemetry struct {
	Shutdown ShutdownFunc

	// MetricsHandler serves /metrics with the Prometheus exporter; nil
	// otherwise.
	MetricsHandler http.Handler
}

// Setup installs global tracer and meter providers for cfg.Exporter:
// "otlp" exports traces and metrics over gRPC, "prometheus" exposes metrics
// for scraping, "none" keeps the no-op providers.
func Setup(ctx context.Context, cfg config.OTEL, service string) (*Telemetry, error) {
	nop := &Telemetry{Shutdown: func(context.Context) error { return nil }}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", service),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	switch cfg.Exporter {
	case "", "none":
		return nop, nil

	case "otlp":
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}

		traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		)
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
			sdkmetric.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		slog.Info("otel exporting via otlp", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

		return &Telemetry{Shutdown: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		}}, nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exp),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		slog.Info("otel metrics exposed for prometheus")

		return &Telemetry{Shutdown: mp.Shutdown, MetricsHandler: promhttp.Handler()}, nil

	default:
		return nil, fmt.Errorf("unsupported otel exporter %q", cfg.Exporter)
	}
}
