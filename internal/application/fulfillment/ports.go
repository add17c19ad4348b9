package fulfillment

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
)

type IDGenerator interface {
	NewID() string
}

// Locker serialises workflows touching the same order, possibly across instances.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleAdmin    Role = "admin"
	RoleSales    Role = "sales"
)

// Actor is the authenticated caller as resolved by the auth layer.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) canModify(o *order.Order) bool {
	return a.IsAdmin() || o.OwnedBy(a.ID)
}

func (a Actor) canView(o *order.Order) bool {
	return a.canModify(o) || a.Role == RoleSales
}

// Policy holds the tunable parts of the workflows.
type Policy struct {
	Currency              string
	EstimatedDeliveryDays int
	// RestockOnCancel returns reserved stock when an order is cancelled.
	// Off by default until the product owner confirms the expected behaviour.
	RestockOnCancel bool
	Parcel          shipping.Parcel
	GatewayTimeout  time.Duration
	CarrierTimeout  time.Duration
	LockWait        time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Currency:              "INR",
		EstimatedDeliveryDays: 7,
		Parcel:                shipping.Parcel{LengthCM: 10, BreadthCM: 10, HeightCM: 10, WeightKG: 0.5},
		GatewayTimeout:        10 * time.Second,
		CarrierTimeout:        10 * time.Second,
		LockWait:              5 * time.Second,
	}
}
