package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("payment: not found")
	ErrConflict               = errors.New("payment: duplicate transaction")
	ErrInvalidMethod          = errors.New("payment: unsupported payment method")
	ErrMethodMismatch         = errors.New("payment: method does not match the order's payment")
	ErrInvalidStateTransition = errors.New("payment: invalid state transition")
)

// Method is the closed set of ways a buyer can pay.
type Method string

const (
	MethodGateway        Method = "gateway"
	MethodCashOnDelivery Method = "cod"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodGateway, MethodCashOnDelivery:
		return Method(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type Refund struct {
	ID         string
	Amount     decimal.Decimal
	Reason     string
	RefundedAt time.Time
}

type Payment struct {
	ID                string
	BuyerID           string
	OrderID           string
	Method            Method
	TransactionID     string
	ExternalPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Status            Status
	Refund            *Refund
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func New(id, buyerID, orderID string, method Method, transactionID string, amount decimal.Decimal, currency string, now time.Time) (*Payment, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, errors.New("payment: transaction id is required")
	}
	now = now.UTC()
	return &Payment{
		ID:            id,
		BuyerID:       buyerID,
		OrderID:       orderID,
		Method:        method,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CashOnDeliveryTransactionID is the synthetic transaction id recorded for COD orders.
func CashOnDeliveryTransactionID(orderID string) string {
	return "COD-" + orderID
}

func (p *Payment) Complete(externalPaymentID string, now time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, StatusCompleted)
	}
	p.Status = StatusCompleted
	p.ExternalPaymentID = externalPaymentID
	p.UpdatedAt = now.UTC()
	return nil
}

// RevertToPending undoes Complete when the surrounding workflow is compensated.
func (p *Payment) RevertToPending(now time.Time) error {
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, StatusPending)
	}
	p.Status = StatusPending
	p.UpdatedAt = now.UTC()
	return nil
}

func (p *Payment) Fail(now time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.UpdatedAt = now.UTC()
	return nil
}

func (p *Payment) MarkRefunded(r Refund) error {
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, StatusRefunded)
	}
	r.RefundedAt = r.RefundedAt.UTC()
	p.Refund = &r
	p.Status = StatusRefunded
	p.UpdatedAt = r.RefundedAt
	return nil
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Refund != nil {
		r := *p.Refund
		c.Refund = &r
	}
	return &c
}
