package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "chipi". Each binary reports its own.
	ServiceName string

	ServiceVersion string

	// DeviceSerial becomes service.instance.id so several units can share
	// one Prometheus.
	DeviceSerial string

	// Registerer receives the Prometheus collector. Defaults to
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter is optional. Without one, spans are still created and
	// feed trace_id into logs but go nowhere.
	TraceExporter sdktrace.SpanExporter
}

// ShutdownFunc flushes and stops the providers installed by [InitProvider].
type ShutdownFunc func(context.Context) error

// InitProvider installs global meter and tracer providers plus the W3C
// propagator. Metrics are exported through Prometheus.
func InitProvider(ctx context.Context, cfg ProviderConfig) (ShutdownFunc, error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "chipi"
	}
	attrs := resource.WithAttributes(semconv.ServiceName(name))
	opts := []resource.Option{attrs, resource.WithTelemetrySDK(), resource.WithHost()}
	if cfg.ServiceVersion != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	if cfg.DeviceSerial != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceInstanceID(cfg.DeviceSerial)))
	}
	return resource.New(ctx, opts...)
}
