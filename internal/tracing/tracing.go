// Package tracing exports the migrator's spans over OTLP/HTTP.
package tracing

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc flushes pending spans and stops the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracer installs a tracer provider for one migration run. The endpoint is
// either host:port (plain HTTP) or a full http(s) URL, whose path replaces the
// default /v1/traces. With an empty endpoint nothing is exported and the
// global no-op provider stays in place.
func InitTracer(serviceName, endpoint, runID string) (ShutdownFunc, error) {
	if endpoint == "" {
		return noopShutdown, nil
	}

	opts, err := exporterOptions(endpoint)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := runResource(serviceName, runID)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("Exporting traces of run %s to %s", runID, endpoint)

	return func(ctx context.Context) error {
		flushErr := tp.ForceFlush(ctx)
		if flushErr != nil {
			flushErr = fmt.Errorf("failed to flush spans: %w", flushErr)
		}
		return stderrors.Join(flushErr, tp.Shutdown(ctx))
	}, nil
}

// exporterOptions turns the configured endpoint into exporter options.
func exporterOptions(endpoint string) ([]otlptracehttp.Option, error) {
	if !strings.Contains(endpoint, "://") {
		return []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		}, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracing endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tracing endpoint %q has no host", endpoint)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	switch u.Scheme {
	case "https":
	case "http":
		opts = append(opts, otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("tracing endpoint %q must use http or https", endpoint)
	}
	if u.Path != "" && u.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	return opts, nil
}

func runResource(serviceName, runID string) (*resource.Resource, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceInstanceID(runID),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
