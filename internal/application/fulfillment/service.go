package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	appinventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	fulfillmentService = "fulfillment-service"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
	peerGateway        = "payment_gateway"
	peerCarrier        = "carrier"
)

// Deps are the collaborators of the orchestrator. Locker and Publisher are optional.
type Deps struct {
	Orders    order.Repository
	Payments  payment.Repository
	Shipments shipping.Repository
	Ledger    inventory.Ledger
	Gateway   payment.Gateway
	Carrier   shipping.Carrier
	Publisher domoutbox.Publisher
	Locker    Locker
	IDs       IDGenerator
	Now       func() time.Time
}

// Service coordinates stock, payment and shipping for an order's lifecycle.
type Service struct {
	orders    order.Repository
	payments  payment.Repository
	shipments shipping.Repository
	reserver  *appinventory.Reserver
	gateway   payment.Gateway
	carrier   shipping.Carrier
	publisher domoutbox.Publisher
	locker    Locker
	ids       IDGenerator
	now       func() time.Time
	policy    Policy

	log    observability.Logger
	tracer observability.Tracer
	// RED metrics (supplied via DI; do not instantiate inside methods).
	reqCounter    observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram  observability.Histogram // usecase_duration_seconds{use_case}
	extCounter    observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram  observability.Histogram // external_request_duration_seconds{peer,endpoint}
	compensations observability.Counter   // fulfillment_compensations_total{step}
}

func NewService(d Deps, policy Policy, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if policy.EstimatedDeliveryDays <= 0 {
		policy.EstimatedDeliveryDays = DefaultPolicy().EstimatedDeliveryDays
	}
	if policy.Currency == "" {
		policy.Currency = DefaultPolicy().Currency
	}
	metrics := tel.Metrics()

	return &Service{
		orders:        d.Orders,
		payments:      d.Payments,
		shipments:     d.Shipments,
		reserver:      appinventory.NewReserver(d.Ledger, tel),
		gateway:       d.Gateway,
		carrier:       d.Carrier,
		publisher:     d.Publisher,
		locker:        d.Locker,
		ids:           d.IDs,
		now:           d.Now,
		policy:        policy,
		log:           tel.Logger().With(observability.F("service", fulfillmentService)),
		tracer:        tel.Tracer(),
		reqCounter:    metrics.Counter(observability.MUsecaseRequests),
		durHistogram:  metrics.Histogram(observability.MUsecaseDuration),
		extCounter:    metrics.Counter(observability.MExternalRequests),
		extHistogram:  metrics.Histogram(observability.MExternalRequestDuration),
		compensations: metrics.Counter(observability.MCompensations),
	}
}

// execution carries the per-call span, logger and outcome for use_case_done.
type execution struct {
	useCase string
	span    trace.Span
	logger  observability.Logger
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

func (s *Service) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *execution) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := s.tracer.Start(ctx, spanPrefix+spanName, attrs...)
	ctx, logger := logctx.Extend(ctx, s.log, observability.F("use_case", useCase))
	return ctx, &execution{
		useCase: useCase,
		span:    span,
		logger:  logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

func (e *execution) fail(status string, err error) error {
	e.outcome, e.status = "error", status
	return err
}

func (e *execution) note(fields ...observability.Field) {
	e.fields = append(e.fields, fields...)
}

func (e *execution) event(name string, attrs ...attribute.KeyValue) {
	if e.span != nil {
		e.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (s *Service) finish(ctx context.Context, e *execution, err error) {
	lat := time.Since(e.start).Seconds()
	if err != nil && e.outcome == "success" {
		e.outcome, e.status = "error", "UNEXPECTED"
	}

	if e.span != nil {
		if err != nil {
			e.span.RecordError(err)
			e.span.SetStatus(codes.Error, e.status)
		} else {
			e.span.SetStatus(codes.Ok, e.status)
		}
		e.span.End()
	}

	s.reqCounter.Add(1,
		observability.L("use_case", e.useCase),
		observability.L("outcome", e.outcome),
	)
	s.durHistogram.Observe(lat,
		observability.L("use_case", e.useCase),
	)

	fields := []observability.Field{
		observability.F("outcome", e.outcome),
		observability.F("status", e.status),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, e.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}

	e.logger.Info("use_case_done", fields...)
}

// publish is fire-and-forget: failures are logged and never fail the workflow.
func (s *Service) publish(ctx context.Context, e *execution, event domoutbox.Event) {
	if s.publisher == nil || event == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := s.publisher.Publish(pubCtx, event)
	if err == nil && pubCtx.Err() != nil {
		err = pubCtx.Err()
	}
	cancel()
	s.observeExternal(publishPeer, event.EventName(), start, err)

	if err != nil {
		e.note(observability.F("event_publish_error", err.Error()))
		e.logger.Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.Err(err),
		)
	}
}

func (s *Service) observeExternal(peer, endpoint string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	s.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}

func (s *Service) lockOrder(ctx context.Context, orderID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	wait := s.policy.LockWait
	if wait <= 0 {
		wait = DefaultPolicy().LockWait
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, "order:"+orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderBusy, err)
	}
	return unlock, nil
}

// loadOrder fetches the order and checks that actor may modify it.
func (s *Service) loadOrder(ctx context.Context, orderID string, actor Actor, write bool) (*order.Order, string, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, "ORDER_NOT_FOUND", err
		}
		return nil, "ORDER_LOOKUP_FAILED", wrapRepositoryError(err)
	}
	allowed := actor.canView(o)
	if write {
		allowed = actor.canModify(o)
	}
	if !allowed {
		return nil, "FORBIDDEN", ErrForbidden
	}
	return o, "", nil
}

func (s *Service) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func reservationLines(items []order.LineItem) []appinventory.Line {
	out := make([]appinventory.Line, 0, len(items))
	for _, it := range items {
		out = append(out, appinventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func shipmentItems(items []order.LineItem) []shipping.Item {
	out := make([]shipping.Item, 0, len(items))
	for _, it := range items {
		out = append(out, shipping.Item{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Quantity,
			SellingPrice: it.FinalUnitPrice.Round(2),
		})
	}
	return out
}
