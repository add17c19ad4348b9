package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseTrackShipment  = "shipment.track"
	useCaseOverrideStatus = "order.override_status"
	useCaseGetOrder       = "order.get"
)

type TrackShipmentInput struct {
	OrderID string
	Actor   Actor
}

type TrackShipmentResult struct {
	OrderID     string
	OrderStatus order.Status
	Tracking    shipping.TrackingInfo
}

// TrackShipment asks the carrier for the shipment's progress and moves the
// order forward when the carrier reports it shipped or delivered.
func (s *Service) TrackShipment(ctx context.Context, in TrackShipmentInput) (_ *TrackShipmentResult, err error) {
	ctx, run := s.begin(ctx, useCaseTrackShipment, "TrackShipment", attribute.String("order.id", in.OrderID))
	defer func() { s.finish(ctx, run, err) }()
	run.note(observability.F("order_id", in.OrderID))

	if in.OrderID == "" {
		return nil, run.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	}
	o, status, err := s.loadOrder(ctx, in.OrderID, in.Actor, false)
	if err != nil {
		return nil, run.fail(status, err)
	}
	if o.ExternalShipmentID == "" {
		return nil, run.fail("SHIPMENT_NOT_FOUND", shipping.ErrShipmentNotFound)
	}

	callCtx, cancel := s.withTimeout(ctx, s.policy.CarrierTimeout)
	start := time.Now()
	info, err := s.carrier.Track(callCtx, o.ExternalShipmentID)
	cancel()
	s.observeExternal(peerCarrier, "track", start, err)
	if err != nil {
		return nil, run.fail("CARRIER_TRACK_FAILED", carrierError(err))
	}

	if o, err = s.applyCarrierStatus(ctx, run, o, info.Status); err != nil {
		// the tracking answer is still valid when the local sync loses a race
		run.note(observability.F("status_sync_error", err.Error()))
		err = nil
	}
	return &TrackShipmentResult{OrderID: o.ID, OrderStatus: o.Status, Tracking: info}, nil
}

// applyCarrierStatus advances confirmed/shipped orders to match the carrier.
func (s *Service) applyCarrierStatus(ctx context.Context, run *execution, o *order.Order, carrierStatus shipping.Status) (*order.Order, error) {
	var target order.Status
	switch carrierStatus {
	case shipping.StatusShipped, shipping.StatusInTransit:
		target = order.StatusShipped
	case shipping.StatusDelivered:
		target = order.StatusDelivered
	default:
		return o, nil
	}
	if o.Status == target || (o.Status != order.StatusConfirmed && o.Status != order.StatusShipped) {
		return o, nil
	}

	unlock, err := s.lockOrder(ctx, o.ID)
	if err != nil {
		return o, err
	}
	defer unlock()

	fresh, err := s.orders.Get(ctx, o.ID)
	if err != nil {
		return o, err
	}
	from := fresh.Status
	if from == target {
		return fresh, nil
	}
	if err := advance(fresh, target, s.now()); err != nil {
		return o, nil
	}
	if err := s.orders.Update(ctx, fresh); err != nil {
		return o, err
	}
	s.syncShippingStatus(ctx, run, fresh.ID, carrierStatus)
	s.publish(ctx, run, order.StatusChangedEvent{
		OrderID:    fresh.ID,
		From:       from,
		To:         fresh.Status,
		Source:     "carrier",
		OccurredAt: s.now(),
	})
	return fresh, nil
}

// advance walks confirmed -> shipped -> delivered as far as target.
func advance(o *order.Order, target order.Status, now time.Time) error {
	if o.Status == order.StatusConfirmed {
		if err := o.MarkShipped(now); err != nil {
			return err
		}
	}
	if target == order.StatusDelivered {
		return o.MarkDelivered(now)
	}
	return nil
}

type OverrideStatusInput struct {
	OrderID string
	Actor   Actor
	Status  order.Status
}

// OverrideStatus lets an admin move an order along the lifecycle by hand,
// for shipments the carrier cannot report on.
func (s *Service) OverrideStatus(ctx context.Context, in OverrideStatusInput) (_ *order.Order, err error) {
	ctx, run := s.begin(ctx, useCaseOverrideStatus, "OverrideStatus",
		attribute.String("order.id", in.OrderID),
		attribute.String("order.target_status", string(in.Status)),
	)
	defer func() { s.finish(ctx, run, err) }()
	run.note(observability.F("order_id", in.OrderID))

	if !in.Actor.IsAdmin() {
		return nil, run.fail("FORBIDDEN", ErrForbidden)
	}
	if in.OrderID == "" {
		return nil, run.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	}
	if in.Status != order.StatusShipped && in.Status != order.StatusDelivered {
		return nil, run.fail("STATUS_INVALID", newValidation("status must be shipped or delivered"))
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
	from := o.Status
	if from == in.Status {
		return o, nil
	}
	if from != order.StatusConfirmed && from != order.StatusShipped {
		return nil, run.fail("ORDER_STATE_INVALID",
			businessRule(fmt.Errorf("%w: %s -> %s", order.ErrInvalidStateTransition, from, in.Status)))
	}
	now := s.now()
	if err = advance(o, in.Status, now); err != nil {
		return nil, run.fail("ORDER_STATE_INVALID", businessRule(err))
	}
	if err = s.orders.Update(ctx, o); err != nil {
		return nil, run.fail("ORDER_UPDATE_FAILED", wrapRepositoryError(err))
	}
	s.syncShippingStatus(ctx, run, o.ID, shipping.Status(o.Status))
	s.publish(ctx, run, order.StatusChangedEvent{
		OrderID:    o.ID,
		From:       from,
		To:         o.Status,
		Source:     "admin:" + in.Actor.ID,
		OccurredAt: now,
	})
	return o, nil
}

type OrderView struct {
	Order    *order.Order
	Payment  *payment.Payment
	Shipping *shipping.Shipping
}

// GetOrder returns the order with its payment and shipping records.
func (s *Service) GetOrder(ctx context.Context, orderID string, actor Actor) (_ *OrderView, err error) {
	ctx, run := s.begin(ctx, useCaseGetOrder, "GetOrder", attribute.String("order.id", orderID))
	defer func() { s.finish(ctx, run, err) }()

	o, status, err := s.loadOrder(ctx, orderID, actor, false)
	if err != nil {
		return nil, run.fail(status, err)
	}
	view := &OrderView{Order: o}
	if p, perr := s.payments.Get(ctx, o.PaymentID); perr == nil {
		view.Payment = p
	} else if !errors.Is(perr, payment.ErrNotFound) {
		return nil, run.fail("PAYMENT_LOOKUP_FAILED", wrapRepositoryError(perr))
	}
	if sh, serr := s.shipments.FindByOrder(ctx, o.ID); serr == nil {
		view.Shipping = sh
	} else if !errors.Is(serr, shipping.ErrNotFound) {
		return nil, run.fail("SHIPPING_LOOKUP_FAILED", wrapRepositoryError(serr))
	}
	return view, nil
}
