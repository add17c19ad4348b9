package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
)

// ShippingRepository allows at most one shipping record per order.
type ShippingRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.Shipping // by id
	byOrder map[string]string
}

func NewShippingRepository() *ShippingRepository {
	return &ShippingRepository{
		records: make(map[string]*domain.Shipping),
		byOrder: make(map[string]string),
	}
}

func (r *ShippingRepository) Insert(ctx context.Context, s *domain.Shipping) error {
	_ = ctx
	if s == nil || s.ID == "" {
		return fmt.Errorf("shipping repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[s.OrderID]; exists {
		return fmt.Errorf("shipping repository: order %s already has a shipping record", s.OrderID)
	}
	r.records[s.ID] = s.Clone()
	r.byOrder[s.OrderID] = s.ID
	return nil
}

func (r *ShippingRepository) FindByOrder(ctx context.Context, orderID string) (*domain.Shipping, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.records[id].Clone(), nil
}

func (r *ShippingRepository) Update(ctx context.Context, s *domain.Shipping) error {
	_ = ctx
	if s == nil || s.ID == "" {
		return fmt.Errorf("shipping repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[s.ID]; !exists {
		return domain.ErrNotFound
	}
	r.records[s.ID] = s.Clone()
	return nil
}

func (r *ShippingRepository) Delete(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.byOrder, s.OrderID)
	delete(r.records, id)
	return nil
}

// Len reports how many shipping records exist.
func (r *ShippingRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
