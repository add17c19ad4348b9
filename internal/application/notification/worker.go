package notification

import (
	"context"

	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	workerpresentation "github.com/Zhima-Mochi/minishop-fulfillment/internal/presentation/worker"

	"go.opentelemetry.io/otel/trace"
)

const notificationWorker = "notification_worker"

// Worker turns order.confirmed events into confirmation messages.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    *SendConfirmationUseCase
	tel        observability.Observability
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, useCase *SendConfirmationUseCase, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		useCase:    useCase,
		tel:        tel,
		log:        tel.Logger().With(observability.F("component", notificationWorker)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	w.subscriber.Subscribe(domorder.EventConfirmed, w.handleOrderConfirmed)
}

func (w *Worker) handleOrderConfirmed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.ConfirmedEvent)
	if !ok {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	ctx = workerpresentation.WithEventContext(ctx, w.log, w.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"event":    e.EventName(),
		"order_id": evt.OrderID,
	})

	_, err := w.useCase.Execute(ctx, evt)
	return err
}
