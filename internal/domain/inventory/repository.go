package inventory

import "context"

// Ledger owns stock counts. Reserve must be a single atomic check-and-decrement
// so concurrent reservations can never drive stock below zero.
type Ledger interface {
	Get(ctx context.Context, productID string) (*Product, error)
	Reserve(ctx context.Context, productID string, quantity int) error
	Restore(ctx context.Context, productID string, quantity int) error
}
