package order

import "context"

// Repository persists orders. Update succeeds only when o.Version matches the
// stored version, and bumps o.Version on success; otherwise it returns ErrConflict.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}
