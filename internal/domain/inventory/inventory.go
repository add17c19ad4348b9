package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// Product is the inventory view of a sellable variant.
type Product struct {
	ID        string
	Name      string
	SKU       string
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}

// Deduct applies a conditional decrement to an in-process copy.
func (p *Product) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.Stock {
		return InsufficientStock(p.Name)
	}
	p.Stock -= quantity
	p.touch()
	return nil
}

func (p *Product) Restock(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.touch()
	return nil
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// InsufficientStock names the product that ran out.
func InsufficientStock(productName string) error {
	return fmt.Errorf("%w for product %q", ErrInsufficientStock, productName)
}
