package order

import (
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProduct  = errors.New("order: unknown product")
	ErrInvalidDiscount = errors.New("order: invalid discount")
	ErrInvalidTax      = errors.New("order: tax percentage must not be negative")
)

var hundred = decimal.NewFromInt(100)

// LineScale is the number of decimal places kept for unit prices and line
// totals. It matches the NUMERIC(16, 6) columns they are stored in.
const LineScale = 6

// Discount is applied to a unit price before tax.
type Discount interface {
	Kind() string
	Value() decimal.Decimal
	apply(price decimal.Decimal) decimal.Decimal
}

const (
	DiscountNone       = "none"
	DiscountPercentage = "percentage"
	DiscountFlat       = "flat"
)

type NoDiscount struct{}

func (NoDiscount) Kind() string                                { return DiscountNone }
func (NoDiscount) Value() decimal.Decimal                      { return decimal.Zero }
func (NoDiscount) apply(price decimal.Decimal) decimal.Decimal { return price }

type PercentageDiscount struct{ Percent decimal.Decimal }

func (d PercentageDiscount) Kind() string           { return DiscountPercentage }
func (d PercentageDiscount) Value() decimal.Decimal { return d.Percent }
func (d PercentageDiscount) apply(price decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(d.Percent)).Div(hundred)
}

type FlatDiscount struct{ Amount decimal.Decimal }

func (d FlatDiscount) Kind() string           { return DiscountFlat }
func (d FlatDiscount) Value() decimal.Decimal { return d.Amount }
func (d FlatDiscount) apply(price decimal.Decimal) decimal.Decimal {
	out := price.Sub(d.Amount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// NewDiscount rebuilds a discount from its stored kind and value.
func NewDiscount(kind string, value decimal.Decimal) (Discount, error) {
	var d Discount
	switch kind {
	case "", DiscountNone:
		return NoDiscount{}, nil
	case DiscountPercentage:
		d = PercentageDiscount{Percent: value}
	case DiscountFlat:
		d = FlatDiscount{Amount: value}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidDiscount, kind)
	}
	if err := validateDiscount(d); err != nil {
		return nil, err
	}
	return d, nil
}

func validateDiscount(d Discount) error {
	switch v := d.(type) {
	case nil, NoDiscount:
		return nil
	case PercentageDiscount:
		if v.Percent.IsNegative() || v.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s outside 0..100", ErrInvalidDiscount, v.Percent)
		}
	case FlatDiscount:
		if v.Amount.IsNegative() {
			return fmt.Errorf("%w: flat amount %s is negative", ErrInvalidDiscount, v.Amount)
		}
	}
	return nil
}

// LineRequest is one requested line before pricing.
type LineRequest struct {
	ProductID string
	Quantity  int
	Discount  Discount
	TaxPct    decimal.Decimal
}

// FinalUnitPrice is price after discount, then tax, rounded to LineScale.
func FinalUnitPrice(price decimal.Decimal, d Discount, taxPct decimal.Decimal) decimal.Decimal {
	if d == nil {
		d = NoDiscount{}
	}
	return d.apply(price).Mul(hundred.Add(taxPct)).Div(hundred).Round(LineScale)
}

// BuildLines prices the requested lines against the product snapshot.
// It rejects bad quantities, unknown products and stock shortfalls; it does not touch stock.
func BuildLines(reqs []LineRequest, products map[string]inventory.Product) ([]LineItem, error) {
	if len(reqs) == 0 {
		return nil, ErrNoLineItems
	}
	requested := make(map[string]int, len(reqs))
	lines := make([]LineItem, 0, len(reqs))
	for _, r := range reqs {
		if r.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, r.ProductID)
		}
		p, ok := products[r.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, r.ProductID)
		}
		requested[r.ProductID] += r.Quantity
		if requested[r.ProductID] > p.Stock {
			return nil, inventory.InsufficientStock(p.Name)
		}
		if err := validateDiscount(r.Discount); err != nil {
			return nil, err
		}
		if r.TaxPct.IsNegative() {
			return nil, ErrInvalidTax
		}
		d := r.Discount
		if d == nil {
			d = NoDiscount{}
		}
		final := FinalUnitPrice(p.Price, d, r.TaxPct)
		lines = append(lines, LineItem{
			ProductID:      p.ID,
			Name:           p.Name,
			SKU:            p.SKU,
			Quantity:       r.Quantity,
			UnitPrice:      p.Price,
			Discount:       d,
			TaxPct:         r.TaxPct,
			FinalUnitPrice: final,
			LineTotal:      final.Mul(decimal.NewFromInt(int64(r.Quantity))),
		})
	}
	return lines, nil
}

// Total sums line totals exactly and rounds once to two decimal places.
func Total(lines []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum.Round(2)
}
