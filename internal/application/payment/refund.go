package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService       = "payment-service"
	useCasePaymentRefund = "payment.refund"
	refundSpanName       = "RefundPayment"
	spanPrefix           = "UC."
	peerGateway          = "payment_gateway"
	defaultRefundTimeout = 10 * time.Second
)

// ErrNotRefundable is returned for orders that were neither cancelled nor returned.
var ErrNotRefundable = errors.New("payment: order is not eligible for a refund")

type RefundPaymentInput struct {
	OrderID string
	Actor   fulfillment.Actor
	Reason  string
	// Amount defaults to the full payment amount when zero.
	Amount decimal.Decimal
}

type RefundPaymentResult struct {
	PaymentID string
	RefundID  string
	Amount    decimal.Decimal
	Status    dompay.Status
}

type IDGenerator interface {
	NewID() string
}

var _ application.UseCase[RefundPaymentInput, *RefundPaymentResult] = (*RefundPaymentUseCase)(nil)

type RefundPaymentUseCase struct {
	orders   domorder.Repository
	payments dompay.Repository
	gateway  dompay.Gateway
	ids      IDGenerator
	now      func() time.Time
	timeout  time.Duration

	tel        observability.Observability
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
	extCounter observability.Counter
	extHist    observability.Histogram
}

func NewRefundPaymentUseCase(
	orders domorder.Repository,
	payments dompay.Repository,
	gateway dompay.Gateway,
	ids IDGenerator,
	tel observability.Observability,
) *RefundPaymentUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &RefundPaymentUseCase{
		orders:     orders,
		payments:   payments,
		gateway:    gateway,
		ids:        ids,
		now:        time.Now,
		timeout:    defaultRefundTimeout,
		tel:        tel,
		log:        tel.Logger().With(observability.F("service", paymentService)),
		reqCounter: metrics.Counter(observability.MUsecaseRequests),
		durHist:    metrics.Histogram(observability.MUsecaseDuration),
		extCounter: metrics.Counter(observability.MExternalRequests),
		extHist:    metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute refunds the completed payment of a cancelled or returned order.
// Gateway payments are refunded at the provider in minor units; cash on
// delivery payments are only marked refunded.
func (uc *RefundPaymentUseCase) Execute(ctx context.Context, cmd RefundPaymentInput) (_ *RefundPaymentResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCasePaymentRefund),
		observability.F("order_id", cmd.OrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+refundSpanName,
		attribute.String("use_case", useCasePaymentRefund),
		attribute.String("order.id", cmd.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var result *RefundPaymentResult

	defer func() {
		if result != nil {
			span.SetAttributes(attribute.String("payment.status", string(result.Status)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePaymentRefund),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency,
			observability.L("use_case", useCasePaymentRefund),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if result != nil {
			fields = append(fields,
				observability.F("payment_id", result.PaymentID),
				observability.F("refund_id", result.RefundID),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if !cmd.Actor.IsAdmin() {
		outcome, statusText = "error", "FORBIDDEN"
		return nil, fulfillment.ErrForbidden
	}
	if cmd.OrderID == "" {
		outcome, statusText = "error", "ORDER_ID_REQUIRED"
		return nil, fmt.Errorf("%w: order id is required", fulfillment.ErrValidation)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		outcome, statusText = "error", "REASON_REQUIRED"
		return nil, fmt.Errorf("%w: refund reason is required", fulfillment.ErrValidation)
	}
	if cmd.Amount.IsNegative() {
		outcome, statusText = "error", "AMOUNT_INVALID"
		return nil, fmt.Errorf("%w: refund amount must not be negative", fulfillment.ErrValidation)
	}

	order, err := uc.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		if errors.Is(err, domorder.ErrNotFound) {
			statusText = "ORDER_NOT_FOUND"
		}
		return nil, err
	}
	if order.Status != domorder.StatusCancelled && order.Status != domorder.StatusReturnRequested {
		outcome, statusText = "error", "ORDER_NOT_REFUNDABLE"
		return nil, fmt.Errorf("%w: %w: order is %s", fulfillment.ErrBusinessRule, ErrNotRefundable, order.Status)
	}

	pay, err := uc.payments.Get(ctx, order.PaymentID)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_LOOKUP_FAILED"
		return nil, err
	}
	if pay.Status != dompay.StatusCompleted {
		outcome, statusText = "error", "PAYMENT_NOT_COMPLETED"
		return nil, fmt.Errorf("%w: %w: payment is %s", fulfillment.ErrBusinessRule, dompay.ErrInvalidStateTransition, pay.Status)
	}

	amount := cmd.Amount
	if amount.IsZero() {
		amount = pay.Amount
	}
	if amount.GreaterThan(pay.Amount) {
		outcome, statusText = "error", "AMOUNT_EXCEEDS_PAYMENT"
		return nil, fmt.Errorf("%w: refund exceeds the paid amount", fulfillment.ErrValidation)
	}

	refundID := "COD-REFUND-" + uc.ids.NewID()
	if pay.Method == dompay.MethodGateway {
		refundID, err = uc.refundAtGateway(ctx, pay.ExternalPaymentID, dompay.ToMinorUnits(amount))
		if err != nil {
			outcome, statusText = "error", "GATEWAY_REFUND_FAILED"
			if errors.Is(err, dompay.ErrPaymentRejected) {
				return nil, fmt.Errorf("%w: %w", fulfillment.ErrBusinessRule, err)
			}
			return nil, err
		}
	}

	if err = pay.MarkRefunded(dompay.Refund{
		ID:         refundID,
		Amount:     amount,
		Reason:     cmd.Reason,
		RefundedAt: uc.now(),
	}); err != nil {
		outcome, statusText = "error", "PAYMENT_STATE_INVALID"
		return nil, fmt.Errorf("%w: %w", fulfillment.ErrBusinessRule, err)
	}
	if err = uc.payments.Update(ctx, pay); err != nil {
		// the provider already refunded; the record must be fixed by hand
		outcome, statusText = "error", "PAYMENT_UPDATE_FAILED"
		logger.Error("refund_not_recorded",
			observability.F("refund_id", refundID),
			observability.Err(err),
		)
		return nil, fmt.Errorf("%w: %w", fulfillment.ErrRepository, err)
	}

	result = &RefundPaymentResult{
		PaymentID: pay.ID,
		RefundID:  refundID,
		Amount:    amount,
		Status:    pay.Status,
	}
	return result, nil
}

func (uc *RefundPaymentUseCase) refundAtGateway(ctx context.Context, paymentID string, amountMinor int64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()
	start := time.Now()
	id, err := uc.gateway.Refund(callCtx, paymentID, amountMinor)

	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", peerGateway),
		observability.L("endpoint", "refund"),
		observability.L("outcome", outcome),
	)
	uc.extHist.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerGateway),
		observability.L("endpoint", "refund"),
	)
	return id, err
}
