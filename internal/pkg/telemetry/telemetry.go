// Package telemetry wires OpenTelemetry tracing for the gateway.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls tracing.
type Config struct {
	Enabled     bool
	ServiceName string
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://localhost:4318.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Environment string
}

// Setup installs a global tracer provider exporting to cfg.Endpoint.
//
// Tracing is opt-in: when cfg is disabled or has no endpoint, Setup returns
// a no-op shutdown function and leaves the global provider untouched.
// The returned shutdown function flushes pending spans.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, err
	}

	attrs := resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))
	res, err := resource.New(ctx, attrs)
	if err != nil {
		return noop, err
	}
	if cfg.Environment != "" {
		res, err = resource.Merge(res, resource.NewSchemaless(semconv.DeploymentEnvironment(cfg.Environment)))
		if err != nil {
			return noop, err
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
