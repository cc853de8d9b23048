// Package telemetry wires OpenTelemetry tracing for the rest of the
// module: the packages that trace (pkg/eventstore, internal/chaosdeck)
// pull their own trace.Tracer from the global provider this package
// installs, the way the corpus's services each call
// otel.Tracer("<service>/<component>") directly rather than threading a
// Telemetry value through every constructor.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracing stack. A zero Config disables export
// entirely and installs a no-op provider; cmd/ironstar only needs to set
// OTLPEndpoint to turn tracing on.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the otlptracehttp collector address, e.g.
	// "localhost:4318". Empty disables the exporter.
	OTLPEndpoint string
	// OTLPInsecure disables TLS for the OTLP HTTP exporter.
	OTLPInsecure bool

	// SampleRate is in [0, 1]; 0 disables sampling, 1 samples everything.
	SampleRate float64

	Logger *slog.Logger
}

// Telemetry owns the process-wide tracer and meter providers and their
// shutdown hooks.
type Telemetry struct {
	Provider      trace.TracerProvider
	MeterProvider metric.MeterProvider
	logger        *slog.Logger
	shutdown      func(context.Context) error
}

// Init sets up tracing with graceful degradation: if OTLPEndpoint is empty
// or the exporter fails to start, tracing runs with a no-op provider rather
// than failing startup.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tel := &Telemetry{logger: cfg.Logger}

	// The meter provider has no reader attached: instruments created
	// against it are fully functional, just not exported anywhere until a
	// Reader is wired in. This mirrors the corpus's "empty provider acts
	// as no-op" graceful-degradation pattern for metrics.
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	tel.MeterProvider = mp
	otel.SetMeterProvider(mp)

	if cfg.OTLPEndpoint == "" {
		tel.Provider = trace.NewNoopTracerProvider()
		otel.SetTracerProvider(tel.Provider)
		tel.shutdown = mp.Shutdown
		cfg.Logger.Info("telemetry: tracing disabled (no OTLP endpoint configured)")
		return tel, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		cfg.Logger.Warn("telemetry: exporter setup failed, continuing without tracing", "error", err)
		tel.Provider = trace.NewNoopTracerProvider()
		otel.SetTracerProvider(tel.Provider)
		tel.shutdown = mp.Shutdown
		return tel, nil
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRate)
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	tel.Provider = tp
	tel.shutdown = func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg.Logger.Info("telemetry: tracing initialized", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return tel, nil
}

// Shutdown flushes and stops the exporter, if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	t.logger.Info("telemetry: shutting down")
	return t.shutdown(ctx)
}

// Tracer returns a named tracer from the installed provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.Provider.Tracer(name)
}

// Meter returns a named meter from the installed provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}
