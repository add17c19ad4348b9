package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	notificationService     = "notification-service"
	useCaseSendConfirmation = "notification.order_confirmed"
	confirmationSpanName    = "SendConfirmation"
	spanPrefix              = "UC."
	peerNotifier            = "notifier"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Notifier delivers messages (email, chat, log). Delivery is best-effort.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type SendConfirmationResult struct {
	Sent   int
	Failed int
}

var _ application.UseCase[domorder.ConfirmedEvent, *SendConfirmationResult] = (*SendConfirmationUseCase)(nil)

// SendConfirmationUseCase tells the buyer their order is confirmed and gives
// the internal team a fulfilment notice.
type SendConfirmationUseCase struct {
	notifier Notifier
	internal []string
	currency string

	tel        observability.Observability
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
	extCounter observability.Counter
	extHist    observability.Histogram
}

func NewSendConfirmationUseCase(notifier Notifier, internalRecipients []string, currency string, tel observability.Observability) *SendConfirmationUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &SendConfirmationUseCase{
		notifier:   notifier,
		internal:   internalRecipients,
		currency:   currency,
		tel:        tel,
		log:        tel.Logger().With(observability.F("service", notificationService)),
		reqCounter: metrics.Counter(observability.MUsecaseRequests),
		durHist:    metrics.Histogram(observability.MUsecaseDuration),
		extCounter: metrics.Counter(observability.MExternalRequests),
		extHist:    metrics.Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *SendConfirmationUseCase) Execute(ctx context.Context, evt domorder.ConfirmedEvent) (_ *SendConfirmationResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseSendConfirmation),
		observability.F("order_id", evt.OrderID),
	)
	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+confirmationSpanName,
		attribute.String("use_case", useCaseSendConfirmation),
		attribute.String("order.id", evt.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &SendConfirmationResult{}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseSendConfirmation),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency, observability.L("use_case", useCaseSendConfirmation))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("sent", result.Sent),
			observability.F("failed", result.Failed),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if evt.OrderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return result, errors.New("notification: order id is required")
	}

	var msgs []Message
	if evt.BuyerEmail != "" {
		msgs = append(msgs, uc.buyerMessage(evt))
	} else {
		logger.Warn("buyer_email_missing")
	}
	if len(uc.internal) > 0 {
		msgs = append(msgs, uc.internalMessage(evt))
	}

	var errs []error
	for _, msg := range msgs {
		if serr := uc.send(ctx, msg); serr != nil {
			result.Failed++
			errs = append(errs, serr)
			continue
		}
		result.Sent++
	}
	if err = errors.Join(errs...); err != nil {
		outcome, statusText = "error", "NOTIFICATION_FAILED"
		if result.Sent > 0 {
			statusText = "NOTIFICATION_PARTIAL"
		}
		return result, err
	}
	return result, nil
}

func (uc *SendConfirmationUseCase) send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := uc.notifier.Send(ctx, msg)
	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", peerNotifier),
		observability.L("endpoint", "send"),
		observability.L("outcome", outcome),
	)
	uc.extHist.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerNotifier),
		observability.L("endpoint", "send"),
	)
	if err != nil {
		return fmt.Errorf("notification: send %q: %w", msg.Subject, err)
	}
	return nil
}

func (uc *SendConfirmationUseCase) buyerMessage(evt domorder.ConfirmedEvent) Message {
	var b strings.Builder
	name := evt.BuyerName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s. Your payment has been received.\n\n", name, evt.OrderID)
	writeLines(&b, evt, uc.currency)
	if evt.TrackingNumber != "" {
		fmt.Fprintf(&b, "\nTracking number: %s\n", evt.TrackingNumber)
	}
	if !evt.EstimatedDelivery.IsZero() {
		fmt.Fprintf(&b, "Estimated delivery: %s\n", evt.EstimatedDelivery.Format("02 Jan 2006"))
	}
	return Message{
		To:      []string{evt.BuyerEmail},
		Subject: fmt.Sprintf("Order %s confirmed", evt.OrderID),
		Body:    b.String(),
	}
}

func (uc *SendConfirmationUseCase) internalMessage(evt domorder.ConfirmedEvent) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s from buyer %s is confirmed (%s).\n", evt.OrderID, evt.BuyerID, evt.PaymentMethod)
	fmt.Fprintf(&b, "Carrier shipment: %s\n\n", evt.ExternalShipmentID)
	writeLines(&b, evt, uc.currency)
	return Message{
		To:      append([]string(nil), uc.internal...),
		Subject: fmt.Sprintf("New order %s to fulfil", evt.OrderID),
		Body:    b.String(),
	}
}

func writeLines(b *strings.Builder, evt domorder.ConfirmedEvent, currency string) {
	for _, l := range evt.Lines {
		fmt.Fprintf(b, "  %d x %s (%s)  %s %s\n", l.Quantity, l.Name, l.SKU, l.LineTotal.StringFixed(2), currency)
	}
	fmt.Fprintf(b, "Total: %s %s\n", evt.TotalAmount.StringFixed(2), currency)
}
