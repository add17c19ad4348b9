package inventory

import (
	"context"
	"errors"
	"fmt"

	dominv "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
)

const inventoryService = "inventory-service"

// Line is a quantity of one product to reserve or restock.
type Line struct {
	ProductID string
	Quantity  int
}

// Reservation holds the lines that were actually decremented, in order.
type Reservation struct {
	lines []Line
}

func (r *Reservation) Lines() []Line {
	if r == nil {
		return nil
	}
	return append([]Line(nil), r.lines...)
}

// Reserver runs the two-phase stock reservation on top of the ledger's
// atomic conditional decrement.
type Reserver struct {
	ledger       dominv.Ledger
	log          observability.Logger
	reservations observability.Counter // stock_reservations_total{outcome}
}

func NewReserver(ledger dominv.Ledger, tel observability.Observability) *Reserver {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Reserver{
		ledger:       ledger,
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		reservations: tel.Metrics().Counter(observability.MStockReservations),
	}
}

// Snapshot loads the current product view for every distinct id.
func (r *Reserver) Snapshot(ctx context.Context, productIDs []string) (map[string]dominv.Product, error) {
	out := make(map[string]dominv.Product, len(productIDs))
	for _, id := range productIDs {
		if _, ok := out[id]; ok {
			continue
		}
		p, err := r.ledger.Get(ctx, id)
		if err != nil {
			if errors.Is(err, dominv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("inventory: load %s: %w", id, err)
		}
		out[id] = *p
	}
	return out, nil
}

// ReserveAll decrements each line in order. On the first failure it restores
// exactly the lines already reserved and returns the failure.
func (r *Reserver) ReserveAll(ctx context.Context, lines []Line) (*Reservation, error) {
	res := &Reservation{lines: make([]Line, 0, len(lines))}
	for _, l := range lines {
		if err := r.ledger.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			r.reservations.Add(1, observability.L("outcome", "rejected"))
			if relErr := r.Release(ctx, res); relErr != nil {
				return nil, errors.Join(fmt.Errorf("inventory: reserve %s: %w", l.ProductID, err), relErr)
			}
			return nil, fmt.Errorf("inventory: reserve %s: %w", l.ProductID, err)
		}
		res.lines = append(res.lines, l)
	}
	r.reservations.Add(1, observability.L("outcome", "reserved"))
	return res, nil
}

// Release gives back every reserved line. It runs even when ctx is already cancelled.
func (r *Reserver) Release(ctx context.Context, res *Reservation) error {
	if res == nil || len(res.lines) == 0 {
		return nil
	}
	err := r.Restock(ctx, res.lines)
	if err == nil {
		r.reservations.Add(1, observability.L("outcome", "released"))
	}
	return err
}

// Restock increments stock for each line, continuing past failures.
func (r *Reserver) Restock(ctx context.Context, lines []Line) error {
	ctx = context.WithoutCancel(ctx)
	logger := logctx.FromOr(ctx, r.log)
	var errs []error
	for _, l := range lines {
		if err := r.ledger.Restore(ctx, l.ProductID, l.Quantity); err != nil {
			logger.Error("stock_restore_failed",
				observability.F("product_id", l.ProductID),
				observability.F("quantity", l.Quantity),
				observability.Err(err),
			)
			errs = append(errs, fmt.Errorf("inventory: restore %s: %w", l.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
