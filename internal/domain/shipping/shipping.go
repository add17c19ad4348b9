package shipping

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("shipping: not found")
	ErrIncompleteAddress = errors.New("shipping: address snapshot is incomplete")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusShipped           Status = "shipped"
	StatusInTransit         Status = "in_transit"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusReturnRequested   Status = "return_requested"
	StatusExchangeRequested Status = "exchange_requested"
)

// Address is a snapshot of the delivery address taken at payment verification.
// It is never updated after the Shipping record is created.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate reports which required parts of the snapshot are missing.
func (a Address) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &AddressError{Missing: missing}
	}
	return nil
}

// AddressError lists the missing address fields.
type AddressError struct {
	Missing []string
}

func (e *AddressError) Error() string {
	return ErrIncompleteAddress.Error() + ": missing " + strings.Join(e.Missing, ", ")
}

func (e *AddressError) Unwrap() error { return ErrIncompleteAddress }

type Shipping struct {
	ID                string
	BuyerID           string
	OrderID           string
	Address           Address
	TrackingNumber    string
	CarrierName       string
	Status            Status
	EstimatedDelivery time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func New(id, buyerID, orderID string, addr Address, estimatedDelivery, now time.Time) (*Shipping, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Shipping{
		ID:                id,
		BuyerID:           buyerID,
		OrderID:           orderID,
		Address:           addr,
		Status:            StatusPending,
		EstimatedDelivery: estimatedDelivery.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// AttachCarrier records what the carrier returned for the shipment.
func (s *Shipping) AttachCarrier(trackingNumber, carrierName string, now time.Time) {
	s.TrackingNumber = trackingNumber
	s.CarrierName = carrierName
	s.UpdatedAt = now.UTC()
}

func (s *Shipping) SetStatus(status Status, now time.Time) {
	s.Status = status
	if status == StatusDelivered && s.DeliveredAt == nil {
		at := now.UTC()
		s.DeliveredAt = &at
	}
	s.UpdatedAt = now.UTC()
}

func (s *Shipping) Clone() *Shipping {
	if s == nil {
		return nil
	}
	c := *s
	if s.DeliveredAt != nil {
		at := *s.DeliveredAt
		c.DeliveredAt = &at
	}
	return &c
}
