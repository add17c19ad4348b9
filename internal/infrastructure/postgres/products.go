package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryLedger keeps stock in the products table. Reserve is one conditional UPDATE.
type InventoryLedger struct {
	db *pgxpool.Pool
}

func NewInventoryLedger(db *pgxpool.Pool) *InventoryLedger {
	return &InventoryLedger{db: db}
}

var _ domain.Ledger = (*InventoryLedger)(nil)

func (l *InventoryLedger) Get(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := l.db.QueryRow(ctx, `
		SELECT id, name, sku, price, stock, updated_at
		FROM products
		WHERE id = $1`, productID,
	).Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.Stock, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("inventory ledger: select %s: %w", productID, err)
	}
	return &p, nil
}

func (l *InventoryLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, quantity)
	if err != nil {
		if isCheckViolation(err) {
			return l.shortfall(ctx, productID)
		}
		return fmt.Errorf("inventory ledger: reserve %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return l.shortfall(ctx, productID)
	}
	return nil
}

func (l *InventoryLedger) Restore(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, productID, quantity)
	if err != nil {
		return fmt.Errorf("inventory ledger: restore %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Upsert seeds or replaces a catalog row.
func (l *InventoryLedger) Upsert(ctx context.Context, p domain.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO products (id, name, sku, price, stock, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
			stock = EXCLUDED.stock, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.SKU, p.Price, p.Stock, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inventory ledger: upsert %s: %w", p.ID, err)
	}
	return nil
}

// shortfall tells a missing product apart from one that ran out.
func (l *InventoryLedger) shortfall(ctx context.Context, productID string) error {
	p, err := l.Get(ctx, productID)
	if err != nil {
		return err
	}
	return domain.InsufficientStock(p.Name)
}
