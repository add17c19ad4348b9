package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCarrierUnavailable covers timeouts, transport failures and carrier-side outages.
	ErrCarrierUnavailable = errors.New("shipping: carrier unavailable")
	ErrShipmentNotFound   = errors.New("shipping: shipment not found at carrier")
)

// CarrierError is a request the carrier understood and refused.
type CarrierError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("shipping: carrier rejected %s (%d): %s", e.Op, e.StatusCode, e.Message)
}

type PaymentMode string

const (
	PaymentModePrepaid        PaymentMode = "Prepaid"
	PaymentModeCashOnDelivery PaymentMode = "COD"
)

type Parcel struct {
	LengthCM  float64
	BreadthCM float64
	HeightCM  float64
	WeightKG  float64
}

type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

type ShipmentRequest struct {
	OrderID     string
	OrderDate   time.Time
	Address     Address
	Email       string
	Items       []Item
	SubTotal    decimal.Decimal
	PaymentMode PaymentMode
	Parcel      Parcel
}

type ReturnRequest struct {
	OrderID         string
	OriginalOrderID string
	PickupAddress   Address
	Email           string
	Items           []Item
	SubTotal        decimal.Decimal
	Reason          string
	Parcel          Parcel
}

type Shipment struct {
	ExternalID     string
	TrackingNumber string
	CarrierName    string
}

type TrackingActivity struct {
	At       time.Time `json:"at"`
	Status   string    `json:"status"`
	Location string    `json:"location,omitempty"`
}

type TrackingInfo struct {
	ExternalID        string             `json:"external_id"`
	Status            Status             `json:"status"`
	CarrierStatus     string             `json:"carrier_status"`
	EstimatedDelivery *time.Time         `json:"estimated_delivery,omitempty"`
	DeliveredAt       *time.Time         `json:"delivered_at,omitempty"`
	Activities        []TrackingActivity `json:"activities,omitempty"`
}

// Carrier is the outbound port to the shipping provider.
// CreateShipment failures are fatal to the calling workflow; the rest are best-effort.
type Carrier interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error)
	CancelShipment(ctx context.Context, externalIDs ...string) error
	CreateReturn(ctx context.Context, req ReturnRequest) (Shipment, error)
	Track(ctx context.Context, externalID string) (TrackingInfo, error)
}
