// Package observability bootstraps the runtime's OpenTelemetry metrics
// pipeline and structured logger, following the same OTLP-over-gRPC
// bootstrap shape used elsewhere in the source tree. The runtime works
// with metrics disabled (a no-op meter provider); exporting to an external
// collector is the caller's responsibility.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName names the runtime when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "jobqueue"

// Config holds observability bootstrap configuration.
type Config struct {
	Enabled     bool
	ServiceName string
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	svc, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithSchemaURL(semconv.SchemaURL),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: building service resource: %w", err)
	}

	res, err := resource.Merge(resource.Default(), svc)
	if err != nil {
		if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
			return res, nil
		}
		return nil, fmt.Errorf("observability: merging resources: %w", err)
	}
	return res, nil
}

// InitMeterProvider initializes an OTLP/gRPC meter provider and sets it as
// the global provider. With cfg.Enabled false it installs a no-op provider
// so every instrument created against it is a safe discard.
func InitMeterProvider(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	res, err := newResource(ctx, serviceName(cfg))
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(context.Background(), otlpmetricgrpc.WithTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("observability: creating metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// InitLogger returns a structured logger. With cfg.Enabled false it returns
// a plain JSON slog.Logger over stdout; otherwise it bridges slog records
// into whatever log provider the caller has installed (the runtime itself
// only bootstraps metrics, per its ambient-stack scope).
func InitLogger(cfg Config) *slog.Logger {
	if !cfg.Enabled {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return otelslog.NewLogger(serviceName(cfg))
}

func serviceName(cfg Config) string {
	if cfg.ServiceName == "" {
		return DefaultServiceName
	}
	return cfg.ServiceName
}
