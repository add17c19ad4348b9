package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable is a transient failure; the caller may retry.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrPaymentRejected covers declined intents, refunds and bad signatures.
	ErrPaymentRejected = errors.New("payment: rejected")
)

type Intent struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
}

// Gateway is the outbound port to the hosted payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (Intent, error)
	VerifySignature(intentID, paymentID, signature string) bool
	Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error)
}

// ToMinorUnits converts a currency amount into its smallest unit (two decimal places).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
