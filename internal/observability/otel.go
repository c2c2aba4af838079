package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitOTel configures the global tracer and meter providers. Metrics are
// exposed through a Prometheus bridge, scraped by the host runtime's
// /api/performance/metrics endpoint (spec §6); traces are recorded in-process
// without a remote exporter so spans remain inspectable via the otel SDK test
// utilities even when no collector is configured.
func InitOTel(ctx context.Context, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if serviceName == "" {
		return nil, errors.New("service name is required")
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		var errs []error
		if e := mp.Shutdown(shutdownCtx); e != nil {
			errs = append(errs, e)
		}
		if e := tp.Shutdown(shutdownCtx); e != nil {
			errs = append(errs, e)
		}
		return errors.Join(errs...)
	}, nil
}
