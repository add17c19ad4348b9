// Package oteltrace adapts the global OpenTelemetry tracer provider. Spans are
// no-ops until a provider with an exporter is installed via otel.SetTracerProvider.
package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Zhima-Mochi/minishop-fulfillment"

type tracer struct {
	t       trace.Tracer
	service attribute.KeyValue
}

// New returns a tracer whose spans are internal and tagged with service.name.
func New(service string) observability.Tracer {
	if service == "" {
		service = "minishop-fulfillment"
	}
	return &tracer{
		t:       otel.Tracer(instrumentationName),
		service: attribute.String("service.name", service),
	}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(t.service),
		trace.WithAttributes(attrs...),
	)
}
