package payment

import "context"

// Repository persists payments. Insert returns ErrConflict when (method, transaction id) already exists.
type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
