package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes and stops the exporters.
type ShutdownFunc func(context.Context) error

// Config controls the OTLP exporters. Endpoint and headers come from the
// standard OTEL_EXPORTER_OTLP_* environment variables.
type Config struct {
	ServiceName    string
	Version        string
	ExportInterval time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "stockroom"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ExportInterval == 0 {
		c.ExportInterval = 10 * time.Second
	}
}

// InitTelemetry installs global trace and meter providers backed by OTLP/gRPC.
// A provider that cannot be created is logged and skipped.
func InitTelemetry(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	cfg.ApplyDefaults()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	shutdowns := make([]ShutdownFunc, 0, 2)

	traceShutdown, err := initTraceProvider(ctx, res)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize trace provider, continuing without tracing")
	} else {
		shutdowns = append(shutdowns, traceShutdown)
	}

	metricShutdown, err := initMeterProvider(ctx, res, cfg.ExportInterval)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize meter provider, continuing without metrics")
	} else {
		shutdowns = append(shutdowns, metricShutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Msg("OpenTelemetry initialized")

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("telemetry shutdown: %w", err)
		}
		return nil
	}, nil
}

func initTraceProvider(ctx context.Context, res *resource.Resource) (ShutdownFunc, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func initMeterProvider(ctx context.Context, res *resource.Resource, interval time.Duration) (ShutdownFunc, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
