package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: modified concurrently")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrNoLineItems            = errors.New("order: at least one line item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrItemNotInOrder         = errors.New("order: item is not part of the order")
	ErrItemAlreadyFlagged     = errors.New("order: item already has a return or exchange request")
	ErrQuantityExceedsLine    = errors.New("order: requested quantity exceeds ordered quantity")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusReturnRequested   Status = "return_requested"
	StatusExchangeRequested Status = "exchange_requested"
)

type Contact struct {
	Name  string
	Email string
	Phone string
}

type LineItem struct {
	ProductID         string
	Name              string
	SKU               string
	Quantity          int
	UnitPrice         decimal.Decimal
	Discount          Discount
	TaxPct            decimal.Decimal
	FinalUnitPrice    decimal.Decimal
	LineTotal         decimal.Decimal
	ReturnRequested   bool
	ExchangeRequested bool
	FlaggedQuantity   int
	Reason            string
}

func (l LineItem) flagged() bool { return l.ReturnRequested || l.ExchangeRequested }

// ItemQuantity names part of an order line, as used by return and exchange requests.
type ItemQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID                 string
	BuyerID            string
	Contact            Contact
	Items              []LineItem
	TotalAmount        decimal.Decimal
	Status             Status
	ShippingStatus     shipping.Status
	ShippingAddressID  string
	PaymentID          string
	ExternalShipmentID string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New assembles a pending order. The total is fixed here from the priced lines
// and never recomputed from live catalog prices.
func New(id, buyerID string, contact Contact, items []LineItem, shippingAddressID, paymentID string, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoLineItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	now = now.UTC()
	lines := append([]LineItem(nil), items...)
	return &Order{
		ID:                id,
		BuyerID:           buyerID,
		Contact:           contact,
		Items:             lines,
		TotalAmount:       Total(lines),
		Status:            StatusPending,
		ShippingStatus:    shipping.StatusPending,
		ShippingAddressID: shippingAddressID,
		PaymentID:         paymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (o *Order) OwnedBy(buyerID string) bool { return o.BuyerID == buyerID }

// Confirm moves a pending order to confirmed once payment is verified.
func (o *Order) Confirm(now time.Time) error {
	return o.transition(now, func(s State) (State, error) { return s.OnConfirm(o) })
}

// RevertConfirmation undoes Confirm after a downstream failure.
// The address reference is replaced so the buyer re-enters delivery details.
func (o *Order) RevertConfirmation(placeholderAddressID string, now time.Time) error {
	if err := o.transition(now, func(s State) (State, error) { return s.OnRevert(o) }); err != nil {
		return err
	}
	o.ShippingAddressID = placeholderAddressID
	o.ExternalShipmentID = ""
	return nil
}

func (o *Order) Cancel(now time.Time) error {
	return o.transition(now, func(s State) (State, error) { return s.OnCancel(o) })
}

func (o *Order) MarkShipped(now time.Time) error {
	return o.transition(now, func(s State) (State, error) { return s.OnShip(o) })
}

func (o *Order) MarkDelivered(now time.Time) error {
	return o.transition(now, func(s State) (State, error) { return s.OnDeliver(o) })
}

// RequestReturn flags the named lines and moves the order to return_requested.
func (o *Order) RequestReturn(reason string, items []ItemQuantity, now time.Time) error {
	if !CanTransition(o.Status, StatusReturnRequested) {
		return fmt.Errorf("%w: %s", ErrInvalidStateTransition, o.Status)
	}
	if err := o.flagLines(reason, items, true); err != nil {
		return err
	}
	return o.transition(now, func(s State) (State, error) { return s.OnReturnRequested(o) })
}

// RequestExchange flags the named lines and moves the order to exchange_requested.
func (o *Order) RequestExchange(reason string, items []ItemQuantity, now time.Time) error {
	if !CanTransition(o.Status, StatusExchangeRequested) {
		return fmt.Errorf("%w: %s", ErrInvalidStateTransition, o.Status)
	}
	if err := o.flagLines(reason, items, false); err != nil {
		return err
	}
	return o.transition(now, func(s State) (State, error) { return s.OnExchangeRequested(o) })
}

// AttachShipment stores the carrier's shipment id.
func (o *Order) AttachShipment(externalID string, now time.Time) {
	o.ExternalShipmentID = externalID
	o.UpdatedAt = now.UTC()
}

func (o *Order) transition(now time.Time, fn func(State) (State, error)) error {
	from := o.Status
	next, err := fn(stateFor(from))
	if err != nil {
		return fmt.Errorf("%w: %s", err, from)
	}
	o.Status = next.Status()
	o.UpdatedAt = now.UTC()
	return nil
}

// flagLines validates every requested item before mutating any line.
func (o *Order) flagLines(reason string, items []ItemQuantity, isReturn bool) error {
	if len(items) == 0 {
		return ErrItemNotInOrder
	}
	lines := append([]LineItem(nil), o.Items...)
	for _, req := range items {
		if req.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		idx, err := matchLine(lines, req)
		if err != nil {
			return err
		}
		l := &lines[idx]
		l.ReturnRequested = isReturn
		l.ExchangeRequested = !isReturn
		l.FlaggedQuantity = req.Quantity
		l.Reason = reason
	}
	o.Items = lines
	return nil
}

func matchLine(lines []LineItem, req ItemQuantity) (int, error) {
	found := false
	for i, l := range lines {
		if l.ProductID != req.ProductID {
			continue
		}
		found = true
		if l.flagged() {
			continue
		}
		if req.Quantity > l.Quantity {
			return -1, fmt.Errorf("%w: product %s ordered %d, requested %d", ErrQuantityExceedsLine, req.ProductID, l.Quantity, req.Quantity)
		}
		return i, nil
	}
	if found {
		return -1, fmt.Errorf("%w: product %s", ErrItemAlreadyFlagged, req.ProductID)
	}
	return -1, fmt.Errorf("%w: product %s", ErrItemNotInOrder, req.ProductID)
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}
