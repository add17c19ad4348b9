package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
)

// InventoryLedger keeps stock in process; Reserve is atomic under the mutex.
type InventoryLedger struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewInventoryLedger(products ...domain.Product) *InventoryLedger {
	l := &InventoryLedger{
		products: make(map[string]*domain.Product, len(products)),
	}
	for _, p := range products {
		l.products[p.ID] = cloneProduct(&p)
	}
	return l
}

func (l *InventoryLedger) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (l *InventoryLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	return p.Deduct(quantity)
}

func (l *InventoryLedger) Restore(ctx context.Context, productID string, quantity int) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	return p.Restock(quantity)
}

func cloneProduct(p *domain.Product) *domain.Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
