package shipping

import "context"

type Repository interface {
	Insert(ctx context.Context, s *Shipping) error
	FindByOrder(ctx context.Context, orderID string) (*Shipping, error)
	Update(ctx context.Context, s *Shipping) error
	Delete(ctx context.Context, id string) error
}
