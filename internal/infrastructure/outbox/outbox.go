package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentOutbox = "outbox"
	allEvents       = "*"
)

var ErrBusStopped = errors.New("outbox: bus stopped")

type Options struct {
	QueueSize      int
	Concurrency    int
	HandlerTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{QueueSize: 1024, Concurrency: 8, HandlerTimeout: 30 * time.Second}
}

// queued carries the publisher's span context so handlers, and the Kafka
// relay's traceparent header, stay on the request trace.
type queued struct {
	event domoutbox.Event
	span  trace.SpanContext
}

// Bus is an in-process, non-durable event bus. Publish only enqueues;
// handlers run on the dispatch goroutine with a bounded fanout.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]domoutbox.Handler
	stopped bool

	queue     chan queued
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	opts      Options

	log         observability.Logger
	handled     observability.Counter // events_handled_total{event,outcome}
	dispatchDur observability.Histogram
}

func NewBus(tel observability.Observability, opts Options) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = def.HandlerTimeout
	}
	return &Bus{
		subs:        make(map[string][]domoutbox.Handler),
		queue:       make(chan queued, opts.QueueSize),
		done:        make(chan struct{}),
		opts:        opts,
		log:         tel.Logger().With(observability.F("component", componentOutbox)),
		handled:     tel.Metrics().Counter(observability.MEventsHandled),
		dispatchDur: tel.Metrics().Histogram(observability.MEventDispatchDuration),
	}
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

// SubscribeAll registers h for every event name, e.g. for a relay.
func (b *Bus) SubscribeAll(h domoutbox.Handler) {
	b.Subscribe(allEvents, h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.dispatchLoop(context.WithoutCancel(ctx))
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

// Stop refuses new events, drains what is queued and waits for the
// dispatcher until ctx expires.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		close(b.queue)
		b.mu.Unlock()

		logger := logctx.FromOr(ctx, b.log)
		select {
		case <-b.done:
			logger.Info("event_bus_stopped")
		case <-ctx.Done():
			logger.Warn("event_bus_stop_timeout", observability.F("pending", len(b.queue)))
		}
	})
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- queued{event: e, span: trace.SpanContextFromContext(ctx)}:
		logger.Debug("event_enqueued")
		return nil
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted", observability.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for q := range b.queue {
		fctx := ctx
		if q.span.IsValid() {
			fctx = trace.ContextWithSpanContext(ctx, q.span)
		}
		b.fanout(fctx, q.event)
	}
}

func (b *Bus) handlersFor(name string) []domoutbox.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := append([]domoutbox.Handler(nil), b.subs[name]...)
	return append(out, b.subs[allEvents]...)
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()
	logger := b.log.With(observability.F("event", name))
	handlers := b.handlersFor(name)
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		return
	}

	start := time.Now()
	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.handled.Add(1, observability.L("event", name), observability.L("outcome", "panic"))
					logger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.opts.HandlerTimeout)
			defer cancel()
			hctx = logctx.With(hctx, logger)
			if err := h(hctx, e); err != nil {
				b.handled.Add(1, observability.L("event", name), observability.L("outcome", "error"))
				logger.Warn("event_handler_error", observability.Err(err))
				return
			}
			b.handled.Add(1, observability.L("event", name), observability.L("outcome", "success"))
		}()
	}
	wg.Wait()

	b.dispatchDur.Observe(time.Since(start).Seconds(), observability.L("event", name))
	logger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}
