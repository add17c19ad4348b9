package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type collector struct {
	mu    sync.Mutex
	names []string
}

func (c *collector) handle(_ context.Context, e domoutbox.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, e.EventName())
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func TestBus_DeliversToNamedAndWildcardSubscribers(t *testing.T) {
	bus := NewBus(nil, Options{})
	named, all := &collector{}, &collector{}
	bus.Subscribe(order.EventConfirmed, named.handle)
	bus.SubscribeAll(all.handle)
	bus.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, order.ConfirmedEvent{OrderID: "o1"}))
	require.NoError(t, bus.Publish(ctx, order.CancelledEvent{OrderID: "o2"}))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	assert.Equal(t, []string{order.EventConfirmed}, named.seen())
	assert.Equal(t, []string{order.EventConfirmed, order.EventCancelled}, all.seen())
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewBus(nil, Options{Concurrency: 2})
	ok := &collector{}
	bus.Subscribe(order.EventCreated, func(context.Context, domoutbox.Event) error { return errors.New("down") })
	bus.Subscribe(order.EventCreated, func(context.Context, domoutbox.Event) error { panic("bad handler") })
	bus.Subscribe(order.EventCreated, ok.handle)
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), order.CreatedEvent{OrderID: "o1"}))
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	assert.Equal(t, []string{order.EventCreated}, ok.seen())
}

func TestBus_PublishAfterStop(t *testing.T) {
	bus := NewBus(nil, Options{})
	bus.Start(context.Background())
	bus.Stop(context.Background())

	err := bus.Publish(context.Background(), order.CreatedEvent{})
	assert.ErrorIs(t, err, ErrBusStopped)
}

func TestBus_PublishRespectsContextWhenFull(t *testing.T) {
	bus := NewBus(nil, Options{QueueSize: 1})
	require.NoError(t, bus.Publish(context.Background(), order.CreatedEvent{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, order.CreatedEvent{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_HandlersRunOnThePublishersTrace(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	published := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	bus := NewBus(nil, Options{})
	var (
		mu  sync.Mutex
		got []trace.SpanContext
	)
	bus.SubscribeAll(func(ctx context.Context, _ domoutbox.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, trace.SpanContextFromContext(ctx))
		return nil
	})
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(trace.ContextWithSpanContext(context.Background(), published), order.ConfirmedEvent{OrderID: "o1"}))
	require.NoError(t, bus.Publish(context.Background(), order.CancelledEvent{OrderID: "o2"}))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, traceID, got[0].TraceID())
	assert.Equal(t, spanID, got[0].SpanID())
	assert.True(t, got[0].IsSampled())
	assert.False(t, got[1].IsValid(), "untraced publish must not inherit an earlier trace")
}
