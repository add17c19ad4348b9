package oteltrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestStart_WithoutProviderKeepsParentContext(t *testing.T) {
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), parent)

	ctx, span := New("").Start(ctx, "UC.CreateOrder", attribute.String("order.id", "o-1"))
	defer span.End()

	assert.Equal(t, parent.TraceID(), trace.SpanContextFromContext(ctx).TraceID())
}
