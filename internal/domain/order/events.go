package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCreated           = "order.created"
	EventConfirmed         = "order.confirmed"
	EventCancelled         = "order.cancelled"
	EventReturnRequested   = "order.return_requested"
	EventExchangeRequested = "order.exchange_requested"
	EventStatusChanged     = "order.status_changed"
)

// EventLine is the part of a line item carried by events.
type EventLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// EventLines projects line items into their event form.
func EventLines(items []LineItem) []EventLine {
	out := make([]EventLine, 0, len(items))
	for _, it := range items {
		out = append(out, EventLine{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}
	return out
}

// CreatedEvent is emitted once stock is reserved and the order persisted.
type CreatedEvent struct {
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Lines       []EventLine     `json:"lines"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (CreatedEvent) EventName() string     { return EventCreated }
func (e CreatedEvent) AggregateID() string { return e.OrderID }

func NewCreatedEvent(o *Order, now time.Time) CreatedEvent {
	return CreatedEvent{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		TotalAmount: o.TotalAmount,
		Lines:       EventLines(o.Items),
		OccurredAt:  now.UTC(),
	}
}

// ConfirmedEvent is emitted after payment verification and carrier booking succeed.
// Notification handlers build the buyer and internal emails from it.
type ConfirmedEvent struct {
	OrderID            string          `json:"order_id"`
	BuyerID            string          `json:"buyer_id"`
	BuyerName          string          `json:"buyer_name"`
	BuyerEmail         string          `json:"buyer_email"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentMethod      string          `json:"payment_method"`
	ExternalShipmentID string          `json:"external_shipment_id"`
	TrackingNumber     string          `json:"tracking_number,omitempty"`
	EstimatedDelivery  time.Time       `json:"estimated_delivery"`
	Lines              []EventLine     `json:"lines"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

func (ConfirmedEvent) EventName() string     { return EventConfirmed }
func (e ConfirmedEvent) AggregateID() string { return e.OrderID }

type CancelledEvent struct {
	OrderID     string    `json:"order_id"`
	BuyerID     string    `json:"buyer_id"`
	CancelledBy string    `json:"cancelled_by"`
	Restocked   bool      `json:"restocked"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (CancelledEvent) EventName() string     { return EventCancelled }
func (e CancelledEvent) AggregateID() string { return e.OrderID }

// ItemsRequestedEvent covers both return and exchange requests.
type ItemsRequestedEvent struct {
	Kind       string         `json:"kind"`
	OrderID    string         `json:"order_id"`
	BuyerID    string         `json:"buyer_id"`
	Reason     string         `json:"reason"`
	Items      []ItemQuantity `json:"items"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e ItemsRequestedEvent) EventName() string   { return e.Kind }
func (e ItemsRequestedEvent) AggregateID() string { return e.OrderID }

type StatusChangedEvent struct {
	OrderID    string    `json:"order_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (StatusChangedEvent) EventName() string     { return EventStatusChanged }
func (e StatusChangedEvent) AggregateID() string { return e.OrderID }
