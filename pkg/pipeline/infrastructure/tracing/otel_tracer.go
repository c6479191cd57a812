// Package tracing provides the OpenTelemetry implementation of the pipeline
// tracer, exporting spans to an OTLP gRPC collector.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	coremetrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

const moduleName = "tracing"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

var _ coremetrics.Tracer = (*OpenTelemetryTracer)(nil)

// StartSpan starts a span under the context's current span, if any.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, coremetrics.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, otelSpan{span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End() {
	s.span.End()
}

// NewTracer builds the tracer from configuration: an OTLP-exporting tracer
// when tracing is enabled, a no-op tracer otherwise. The provider is flushed
// and shut down with the application.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (coremetrics.Tracer, error) {
	tc := cfg.Medley.Tracing
	if !tc.Enabled {
		return coremetrics.NewNoopTracer(), nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(tc.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, exception.New(moduleName, exception.KindConfig, "failed to create OTLP trace exporter", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", tc.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	logger.Infof("Tracing: exporting spans to %s as service %q.", tc.Endpoint, tc.ServiceName)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	return &OpenTelemetryTracer{tracer: provider.Tracer("medley")}, nil
}

// Module provides the tracer to the fx application graph.
var Module = fx.Options(
	fx.Provide(NewTracer),
)
