package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseVerifyPayment = "payment.verify"

var gatewayPaymentID = regexp.MustCompile(`^pay_[A-Za-z0-9]{14}$`)

// PaymentProof is what the hosted checkout hands back to the client.
type PaymentProof struct {
	IntentID  string
	PaymentID string
	Signature string
}

type VerifyPaymentInput struct {
	OrderID string
	Buyer   Actor
	Address shipping.Address
	Method  payment.Method
	Proof   PaymentProof
}

type VerifyPaymentResult struct {
	OrderID            string
	PaymentID          string
	ShippingID         string
	ExternalShipmentID string
	TrackingNumber     string
	EstimatedDelivery  time.Time
	AlreadyVerified    bool
}

// verifyProgress records which writes reached the store, so compensation undoes exactly those.
type verifyProgress struct {
	order              *order.Order
	orderConfirmed     bool
	payment            *payment.Payment
	paymentCompleted   bool
	shipping           *shipping.Shipping
	shippingCreated    bool
	externalShipmentID string
}

// VerifyPayment confirms the buyer's payment, books the shipment and confirms
// the order. A carrier failure rolls every write back. Repeating the call for
// an order that is confirmed, shipped or delivered returns the recorded result;
// any other non-pending order is rejected with its status.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (_ *VerifyPaymentResult, err error) {
	ctx, run := s.begin(ctx, useCaseVerifyPayment, "VerifyPayment",
		attribute.String("order.id", in.OrderID),
		attribute.String("payment.method", string(in.Method)),
	)
	defer func() { s.finish(ctx, run, err) }()
	run.note(observability.F("order_id", in.OrderID))

	if in.OrderID == "" {
		return nil, run.fail("ORDER_ID_REQUIRED", newValidation("order id is required"))
	}
	if in.Buyer.ID == "" {
		return nil, run.fail("BUYER_ID_REQUIRED", newValidation("buyer id is required"))
	}
	if _, perr := payment.ParseMethod(string(in.Method)); perr != nil {
		return nil, run.fail("PAYMENT_METHOD_INVALID", newValidation(perr.Error()))
	}
	if aerr := in.Address.Validate(); aerr != nil {
		return nil, run.fail("ADDRESS_INCOMPLETE", newValidation(aerr.Error()))
	}
	if in.Method == payment.MethodGateway {
		if in.Proof.IntentID == "" || in.Proof.PaymentID == "" || in.Proof.Signature == "" {
			return nil, run.fail("PAYMENT_PROOF_REQUIRED", newValidation("gateway intent id, payment id and signature are required"))
		}
		if !gatewayPaymentID.MatchString(in.Proof.PaymentID) {
			return nil, run.fail("PAYMENT_ID_INVALID", newValidation("gateway payment id has an unexpected format"))
		}
	}

	unlock, err := s.lockOrder(ctx, in.OrderID)
	if err != nil {
		return nil, run.fail("ORDER_BUSY", err)
	}
	defer unlock()

	o, status, err := s.loadOrder(ctx, in.OrderID, in.Buyer, true)
	if err != nil {
		return nil, run.fail(status, err)
	}
	pay, err := s.payments.Get(ctx, o.PaymentID)
	if err != nil {
		return nil, run.fail("PAYMENT_LOOKUP_FAILED", wrapRepositoryError(err))
	}
	if pay.Method != in.Method {
		return nil, run.fail("PAYMENT_METHOD_MISMATCH", businessRule(payment.ErrMethodMismatch))
	}

	if pay.Status == payment.StatusCompleted && verifiedStatus(o.Status) {
		run.status = "IDEMPOTENT_REPLAY"
		run.event("payment.idempotent_replay")
		return s.verifiedResult(ctx, o, pay), nil
	}
	if o.Status != order.StatusPending {
		return nil, run.fail("ORDER_NOT_PENDING",
			businessRule(fmt.Errorf("%w: order is %s", order.ErrInvalidStateTransition, o.Status)))
	}

	var externalPaymentID string
	if pay.Method == payment.MethodGateway {
		if in.Proof.IntentID != pay.TransactionID || !s.gateway.VerifySignature(in.Proof.IntentID, in.Proof.PaymentID, in.Proof.Signature) {
			return nil, run.fail("SIGNATURE_INVALID",
				businessRule(fmt.Errorf("%w: payment signature does not match", payment.ErrPaymentRejected)))
		}
		externalPaymentID = in.Proof.PaymentID
	}

	now := s.now()
	progress := &verifyProgress{order: o, payment: pay}

	if err = pay.Complete(externalPaymentID, now); err != nil {
		return nil, run.fail("PAYMENT_STATE_INVALID", businessRule(err))
	}
	if err = s.payments.Update(ctx, pay); err != nil {
		return nil, run.fail("PAYMENT_UPDATE_FAILED", wrapRepositoryError(err))
	}
	progress.paymentCompleted = true

	if err = o.Confirm(now); err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("ORDER_STATE_INVALID", businessRule(err))
	}
	if err = s.orders.Update(ctx, o); err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("ORDER_UPDATE_FAILED", wrapRepositoryError(err))
	}
	progress.orderConfirmed = true

	eta := now.AddDate(0, 0, s.policy.EstimatedDeliveryDays)
	ship, err := shipping.New(s.ids.NewID(), o.BuyerID, o.ID, in.Address, eta, now)
	if err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("SHIPPING_CONSTRUCTION_FAILED", newValidation(err.Error()))
	}
	if err = s.shipments.Insert(ctx, ship); err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("SHIPPING_INSERT_FAILED", wrapRepositoryError(err))
	}
	progress.shipping, progress.shippingCreated = ship, true

	shipment, err := s.bookShipment(ctx, o, pay, in.Address)
	if err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("CARRIER_CREATE_FAILED", carrierError(err))
	}
	progress.externalShipmentID = shipment.ExternalID
	run.event("shipment.created", attribute.String("shipment.external_id", shipment.ExternalID))

	o.AttachShipment(shipment.ExternalID, now)
	if err = s.orders.Update(ctx, o); err != nil {
		s.compensateVerification(ctx, run, progress)
		return nil, run.fail("ORDER_UPDATE_FAILED", wrapRepositoryError(err))
	}
	ship.AttachCarrier(shipment.TrackingNumber, shipment.CarrierName, now)
	if uerr := s.shipments.Update(ctx, ship); uerr != nil {
		run.note(observability.F("shipping_update_error", uerr.Error()))
		run.logger.Warn("shipping_carrier_details_not_saved", observability.Err(uerr))
	}

	s.publish(ctx, run, order.ConfirmedEvent{
		OrderID:            o.ID,
		BuyerID:            o.BuyerID,
		BuyerName:          o.Contact.Name,
		BuyerEmail:         o.Contact.Email,
		TotalAmount:        o.TotalAmount,
		PaymentMethod:      string(pay.Method),
		ExternalShipmentID: shipment.ExternalID,
		TrackingNumber:     shipment.TrackingNumber,
		EstimatedDelivery:  eta,
		Lines:              order.EventLines(o.Items),
		OccurredAt:         now,
	})

	return &VerifyPaymentResult{
		OrderID:            o.ID,
		PaymentID:          pay.ID,
		ShippingID:         ship.ID,
		ExternalShipmentID: shipment.ExternalID,
		TrackingNumber:     shipment.TrackingNumber,
		EstimatedDelivery:  eta,
	}, nil
}

func (s *Service) bookShipment(ctx context.Context, o *order.Order, pay *payment.Payment, addr shipping.Address) (shipping.Shipment, error) {
	mode := shipping.PaymentModePrepaid
	if pay.Method == payment.MethodCashOnDelivery {
		mode = shipping.PaymentModeCashOnDelivery
	}
	callCtx, cancel := s.withTimeout(ctx, s.policy.CarrierTimeout)
	defer cancel()
	start := time.Now()
	shipment, err := s.carrier.CreateShipment(callCtx, shipping.ShipmentRequest{
		OrderID:     o.ID,
		OrderDate:   o.CreatedAt,
		Address:     addr,
		Email:       o.Contact.Email,
		Items:       shipmentItems(o.Items),
		SubTotal:    o.TotalAmount,
		PaymentMode: mode,
		Parcel:      s.policy.Parcel,
	})
	s.observeExternal(peerCarrier, "create_shipment", start, err)
	return shipment, err
}

// compensateVerification undoes the persisted steps of VerifyPayment in reverse order.
// Failures are logged; the caller still reports the original error.
func (s *Service) compensateVerification(ctx context.Context, run *execution, p *verifyProgress) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	var errs []error

	if p.externalShipmentID != "" {
		if err := s.cancelAtCarrier(ctx, p.externalShipmentID); err != nil {
			errs = append(errs, err)
		}
	}
	if p.shippingCreated {
		if err := s.shipments.Delete(ctx, p.shipping.ID); err != nil && !errors.Is(err, shipping.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete shipping: %w", err))
		}
	}
	if p.orderConfirmed {
		if err := p.order.RevertConfirmation(s.ids.NewID(), now); err != nil {
			errs = append(errs, fmt.Errorf("revert order: %w", err))
		} else if err := s.orders.Update(ctx, p.order); err != nil {
			errs = append(errs, fmt.Errorf("revert order: %w", err))
		}
	}
	if p.paymentCompleted {
		if err := p.payment.RevertToPending(now); err != nil {
			errs = append(errs, fmt.Errorf("revert payment: %w", err))
		} else if err := s.payments.Update(ctx, p.payment); err != nil {
			errs = append(errs, fmt.Errorf("revert payment: %w", err))
		}
	}

	s.compensations.Add(1, observability.L("step", "verify_payment"))
	run.event("verify_payment.compensated")
	if err := errors.Join(errs...); err != nil {
		run.note(observability.F("compensation_error", err.Error()))
		run.logger.Error("verify_payment_compensation_incomplete",
			observability.F("order_id", p.order.ID),
			observability.Err(err),
		)
		return
	}
	run.logger.Warn("verify_payment_compensated", observability.F("order_id", p.order.ID))
}

func (s *Service) cancelAtCarrier(ctx context.Context, externalID string) error {
	callCtx, cancel := s.withTimeout(ctx, s.policy.CarrierTimeout)
	defer cancel()
	start := time.Now()
	err := s.carrier.CancelShipment(callCtx, externalID)
	s.observeExternal(peerCarrier, "cancel_shipment", start, err)
	return err
}

// verifiedStatus reports whether a repeated verification may replay the
// recorded result for an order in status st.
func verifiedStatus(st order.Status) bool {
	switch st {
	case order.StatusConfirmed, order.StatusShipped, order.StatusDelivered:
		return true
	default:
		return false
	}
}

func (s *Service) verifiedResult(ctx context.Context, o *order.Order, pay *payment.Payment) *VerifyPaymentResult {
	res := &VerifyPaymentResult{
		OrderID:            o.ID,
		PaymentID:          pay.ID,
		ExternalShipmentID: o.ExternalShipmentID,
		AlreadyVerified:    true,
	}
	if ship, err := s.shipments.FindByOrder(ctx, o.ID); err == nil {
		res.ShippingID = ship.ID
		res.TrackingNumber = ship.TrackingNumber
		res.EstimatedDelivery = ship.EstimatedDelivery
	}
	return res
}
