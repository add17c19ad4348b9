package fulfillment

import (
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrBusinessRule = errors.New("request violates a business rule")
	ErrForbidden    = errors.New("fulfillment: actor may not act on this order")
	ErrRepository   = errors.New("fulfillment: repository failure")
	ErrOrderBusy    = errors.New("fulfillment: order is being processed, retry shortly")
)

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func businessRule(err error) error {
	return fmt.Errorf("%w: %w", ErrBusinessRule, err)
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, shipping.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound):
		return err
	case errors.Is(err, order.ErrConflict),
		errors.Is(err, payment.ErrConflict):
		return businessRule(err)
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

// gatewayError keeps rejections as business errors and everything else as unavailability.
func gatewayError(err error) error {
	switch {
	case errors.Is(err, payment.ErrPaymentRejected):
		return businessRule(err)
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}
}

func carrierError(err error) error {
	var ce *shipping.CarrierError
	switch {
	case errors.As(err, &ce):
		return businessRule(err)
	case errors.Is(err, shipping.ErrCarrierUnavailable),
		errors.Is(err, shipping.ErrShipmentNotFound):
		return err
	default:
		return fmt.Errorf("%w: %w", shipping.ErrCarrierUnavailable, err)
	}
}
