package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
)

type PaymentRepository struct {
	mu           sync.RWMutex
	payments     map[string]*domain.Payment
	transactions map[string]string // method|transaction id -> payment id
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments:     make(map[string]*domain.Payment),
		transactions: make(map[string]string),
	}
}

func transactionKey(p *domain.Payment) string {
	return string(p.Method) + "|" + p.TransactionID
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return domain.ErrConflict
	}
	key := transactionKey(p)
	if _, exists := r.transactions[key]; exists {
		return domain.ErrConflict
	}
	r.payments[p.ID] = p.Clone()
	r.transactions[key] = p.ID
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; !exists {
		return domain.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	return nil
}
