// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/logging"
)

type Options struct {
	Enabled     bool
	ServiceName string
	Version     string
	// Output receives exported spans; defaults to stderr so the stdio tool
	// transport keeps stdout to itself.
	Output io.Writer
}

// Init installs a tracer provider exporting to Output and returns its
// shutdown func. When tracing is disabled the global no-op provider stays in
// place and the returned func does nothing.
func Init(ctx context.Context, opts Options, logger *zap.Logger) (func(context.Context) error, error) {
	logger = logging.OrNop(logger)
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	name := opts.ServiceName
	if name == "" {
		name = "omnidesk"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", opts.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized", zap.String("service", name))
	return tp.Shutdown, nil
}
