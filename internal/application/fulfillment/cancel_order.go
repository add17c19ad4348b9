package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseCancelOrder = "order.cancel"

type CancelOrderInput struct {
	OrderID string
	Actor   Actor
}

type CancelOrderResult struct {
	Order          *order.Order
	Restocked      bool
	CarrierWarning string
}

// CancelOrder cancels a pending or confirmed order. Carrier cancellation is
// best-effort; stock comes back only when Policy.RestockOnCancel is set.
func (s *Service) CancelOrder(ctx context.Context, in CancelOrderInput) (_ *CancelOrderResult, err error) {
	ctx, run := s.begin(ctx, useCaseCancelOrder, "CancelOrder",
		attribute.String("order.id", in.OrderID),
		attribute.String("actor.role", string(in.Actor.Role)),
	)
	defer func() { s.finish(ctx, run, err) }()
	run.note(observability.F("order_id", in.OrderID))

	if in.OrderID == "" {
		return nil, run.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	}

	unlock, err := s.lockOrder(ctx, in.OrderID)
	if err != nil {
		return nil, run.fail("ORDER_BUSY", err)
	}
	defer unlock()

	o, status, err := s.loadOrder(ctx, in.OrderID, in.Actor, true)
	if err != nil {
		return nil, run.fail(status, err)
	}
	if !order.CanTransition(o.Status, order.StatusCancelled) {
		return nil, run.fail("ORDER_NOT_CANCELLABLE",
			businessRule(fmt.Errorf("%w: order in status %s cannot be cancelled", order.ErrInvalidStateTransition, o.Status)))
	}

	now := s.now()
	unpaid := o.Status == order.StatusPending
	if err = o.Cancel(now); err != nil {
		return nil, run.fail("ORDER_NOT_CANCELLABLE", businessRule(err))
	}
	if err = s.orders.Update(ctx, o); err != nil {
		return nil, run.fail("ORDER_UPDATE_FAILED", wrapRepositoryError(err))
	}

	s.syncShippingStatus(ctx, run, o.ID, shipping.StatusCancelled)
	if unpaid {
		s.failPendingPayment(ctx, run, o.PaymentID)
	}

	res := &CancelOrderResult{Order: o}
	if o.ExternalShipmentID != "" {
		if cerr := s.cancelAtCarrier(ctx, o.ExternalShipmentID); cerr != nil {
			res.CarrierWarning = "order cancelled, but the carrier shipment could not be cancelled: " + cerr.Error()
			run.note(observability.F("carrier_warning", cerr.Error()))
			run.logger.Warn("carrier_cancel_failed",
				observability.F("external_shipment_id", o.ExternalShipmentID),
				observability.Err(cerr),
			)
		}
	}

	if s.policy.RestockOnCancel {
		if rerr := s.reserver.Restock(ctx, reservationLines(o.Items)); rerr != nil {
			run.note(observability.F("restock_error", rerr.Error()))
		} else {
			res.Restocked = true
		}
	}

	s.publish(ctx, run, order.CancelledEvent{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		CancelledBy: in.Actor.ID,
		Restocked:   res.Restocked,
		OccurredAt:  now,
	})
	return res, nil
}

// failPendingPayment closes the payment of an order cancelled before it was
// paid, so a late verification cannot complete it.
func (s *Service) failPendingPayment(ctx context.Context, run *execution, paymentID string) {
	pay, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		run.logger.Warn("payment_lookup_failed", observability.F("payment_id", paymentID), observability.Err(err))
		return
	}
	if pay.Status != payment.StatusPending {
		return
	}
	if err := pay.Fail(s.now()); err != nil {
		run.logger.Warn("payment_not_failed", observability.F("payment_id", paymentID), observability.Err(err))
		return
	}
	if err := s.payments.Update(ctx, pay); err != nil {
		run.note(observability.F("payment_update_error", err.Error()))
		run.logger.Warn("payment_status_not_saved", observability.F("payment_id", paymentID), observability.Err(err))
	}
}

// syncShippingStatus mirrors a status onto the shipping record when one exists.
func (s *Service) syncShippingStatus(ctx context.Context, run *execution, orderID string, status shipping.Status) *shipping.Shipping {
	ship, err := s.shipments.FindByOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, shipping.ErrNotFound) {
			run.logger.Warn("shipping_lookup_failed", observability.Err(err))
		}
		return nil
	}
	if ship.Status == status {
		return ship
	}
	ship.SetStatus(status, s.now())
	if err := s.shipments.Update(ctx, ship); err != nil {
		run.note(observability.F("shipping_update_error", err.Error()))
		run.logger.Warn("shipping_status_not_saved",
			observability.F("shipping_status", string(status)),
			observability.Err(err),
		)
	}
	return ship
}
