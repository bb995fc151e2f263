// Package tracing installs the global OpenTelemetry trace provider. The
// default exporter writes spans as JSON to stdout; disabled tracing leaves
// the no-op provider in place so span calls stay cheap.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	providerOnce sync.Once
	providerErr  error
)

// Init configures the stdout span exporter. Safe to call more than once;
// the first successful initialization wins.
func Init(serviceName, serviceVersion string) error {
	return initWithWriter(serviceName, serviceVersion, os.Stdout)
}

func initWithWriter(name, version string, w io.Writer) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return installProvider(name, version, exporter)
}

func installProvider(
	name, version string, exporter sdktrace.SpanExporter,
) error {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", name),
				attribute.String("service.version", version),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		otel.SetTracerProvider(sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(
				sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		))
	})
	return providerErr
}
