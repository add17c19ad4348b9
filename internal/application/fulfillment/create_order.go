package fulfillment

import (
	"context"
	"errors"
	"time"

	appinventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseCreateOrder = "order.create"

type CreateOrderInput struct {
	Buyer             Actor
	Contact           order.Contact
	Lines             []order.LineRequest
	ShippingAddressID string
	PaymentMethod     payment.Method
}

type CreateOrderResult struct {
	OrderID         string
	PaymentID       string
	TotalAmount     decimal.Decimal
	AmountMinor     int64
	Currency        string
	PaymentMethod   payment.Method
	GatewayIntentID string
}

// CreateOrder prices the lines, reserves stock, opens the payment and persists
// the pending order. Stock is never left decremented without a persisted order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *CreateOrderResult, err error) {
	ctx, run := s.begin(ctx, useCaseCreateOrder, "CreateOrder",
		attribute.String("buyer.id", in.Buyer.ID),
		attribute.Int("order.lines", len(in.Lines)),
		attribute.String("payment.method", string(in.PaymentMethod)),
	)
	defer func() { s.finish(ctx, run, err) }()

	switch {
	case in.Buyer.ID == "":
		return nil, run.fail("BUYER_ID_REQUIRED", newValidation("buyer id is required"))
	case len(in.Lines) == 0:
		return nil, run.fail("LINE_ITEMS_REQUIRED", newValidation("at least one line item is required"))
	case in.ShippingAddressID == "":
		return nil, run.fail("SHIPPING_ADDRESS_REQUIRED", newValidation("shipping address is required"))
	}
	if _, perr := payment.ParseMethod(string(in.PaymentMethod)); perr != nil {
		return nil, run.fail("PAYMENT_METHOD_INVALID", newValidation(perr.Error()))
	}
	ids := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		if l.ProductID == "" {
			return nil, run.fail("PRODUCT_ID_REQUIRED", newValidation("product id is required"))
		}
		if l.Quantity < 1 {
			return nil, run.fail("QUANTITY_INVALID", newValidation("quantity must be at least 1"))
		}
		ids = append(ids, l.ProductID)
	}

	products, err := s.reserver.Snapshot(ctx, ids)
	if err != nil {
		return nil, run.fail("PRODUCT_LOOKUP_FAILED", wrapRepositoryError(err))
	}
	lines, err := order.BuildLines(in.Lines, products)
	if err != nil {
		status := "LINE_ITEMS_INVALID"
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			status = "INSUFFICIENT_STOCK"
		case errors.Is(err, order.ErrUnknownProduct):
			status = "PRODUCT_NOT_FOUND"
		}
		return nil, run.fail(status, businessRule(err))
	}

	now := s.now()
	orderID, paymentID := s.ids.NewID(), s.ids.NewID()
	entity, err := order.New(orderID, in.Buyer.ID, in.Contact, lines, in.ShippingAddressID, paymentID, now)
	if err != nil {
		return nil, run.fail("DOMAIN_CONSTRUCTION_FAILED", newValidation(err.Error()))
	}
	run.note(observability.F("order_id", orderID))
	run.span.SetAttributes(attribute.String("order.id", orderID))

	reservation, err := s.reserver.ReserveAll(ctx, reservationLines(lines))
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrNotFound) {
			return nil, run.fail("INSUFFICIENT_STOCK", businessRule(err))
		}
		return nil, run.fail("STOCK_RESERVATION_FAILED", wrapRepositoryError(err))
	}
	run.event("stock.reserved", attribute.Int("lines", len(reservation.Lines())))

	amountMinor := payment.ToMinorUnits(entity.TotalAmount)
	txID := payment.CashOnDeliveryTransactionID(orderID)
	var intentID string
	if in.PaymentMethod == payment.MethodGateway {
		intent, gerr := s.createIntent(ctx, amountMinor, orderID)
		if gerr != nil {
			s.releaseReservation(ctx, run, reservation)
			return nil, run.fail("GATEWAY_INTENT_FAILED", gatewayError(gerr))
		}
		txID, intentID = intent.ID, intent.ID
	}

	pay, err := payment.New(paymentID, in.Buyer.ID, orderID, in.PaymentMethod, txID, entity.TotalAmount, s.policy.Currency, now)
	if err != nil {
		s.releaseReservation(ctx, run, reservation)
		return nil, run.fail("PAYMENT_CONSTRUCTION_FAILED", newValidation(err.Error()))
	}

	if err = s.orders.Insert(ctx, entity); err != nil {
		s.releaseReservation(ctx, run, reservation)
		return nil, run.fail("REPO_INSERT_FAILED", wrapRepositoryError(err))
	}
	if err = s.payments.Insert(ctx, pay); err != nil {
		s.abandonOrder(ctx, run, entity, reservation)
		return nil, run.fail("PAYMENT_INSERT_FAILED", wrapRepositoryError(err))
	}

	s.publish(ctx, run, order.NewCreatedEvent(entity, now))
	run.event("order.created", attribute.String("order.id", orderID))

	return &CreateOrderResult{
		OrderID:         orderID,
		PaymentID:       paymentID,
		TotalAmount:     entity.TotalAmount,
		AmountMinor:     amountMinor,
		Currency:        s.policy.Currency,
		PaymentMethod:   in.PaymentMethod,
		GatewayIntentID: intentID,
	}, nil
}

func (s *Service) createIntent(ctx context.Context, amountMinor int64, receipt string) (payment.Intent, error) {
	callCtx, cancel := s.withTimeout(ctx, s.policy.GatewayTimeout)
	defer cancel()
	start := time.Now()
	intent, err := s.gateway.CreateIntent(callCtx, amountMinor, s.policy.Currency, receipt)
	s.observeExternal(peerGateway, "create_intent", start, err)
	return intent, err
}

func (s *Service) releaseReservation(ctx context.Context, run *execution, res *appinventory.Reservation) {
	s.compensations.Add(1, observability.L("step", "release_stock"))
	if err := s.reserver.Release(ctx, res); err != nil {
		run.note(observability.F("release_error", err.Error()))
		run.logger.Error("stock_release_failed", observability.Err(err))
	}
}

// abandonOrder cancels an order whose payment record could not be written and gives the stock back.
func (s *Service) abandonOrder(ctx context.Context, run *execution, o *order.Order, res *appinventory.Reservation) {
	ctx = context.WithoutCancel(ctx)
	if err := o.Cancel(s.now()); err == nil {
		if uerr := s.orders.Update(ctx, o); uerr != nil {
			run.logger.Error("order_abandon_failed",
				observability.F("order_id", o.ID),
				observability.Err(uerr),
			)
		}
	}
	s.releaseReservation(ctx, run, res)
}
