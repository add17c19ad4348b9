package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/shopspring/decimal"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

type fakeGateway struct {
	mu        sync.Mutex
	intentErr error
	refundErr error
	intents   int
	refunds   []int64
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, currency, receipt string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return payment.Intent{}, g.intentErr
	}
	g.intents++
	return payment.Intent{
		ID:          fmt.Sprintf("order_%s", receipt),
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
	}, nil
}

func (g *fakeGateway) VerifySignature(intentID, paymentID, signature string) bool {
	return signature == signFor(intentID, paymentID)
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amountMinor int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return fmt.Sprintf("rfnd_%d", len(g.refunds)), nil
}

func signFor(intentID, paymentID string) string { return "sig:" + intentID + "|" + paymentID }

type fakeCarrier struct {
	mu        sync.Mutex
	createErr error
	cancelErr error
	returnErr error
	tracking  shipping.TrackingInfo
	trackErr  error

	created   []shipping.ShipmentRequest
	cancelled []string
	returns   []shipping.ReturnRequest
}

func (c *fakeCarrier) CreateShipment(_ context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, req)
	if c.createErr != nil {
		return shipping.Shipment{}, c.createErr
	}
	return shipping.Shipment{
		ExternalID:     "SR-" + req.OrderID,
		TrackingNumber: "AWB-" + req.OrderID,
		CarrierName:    "FastShip",
	}, nil
}

func (c *fakeCarrier) CancelShipment(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, ids...)
	return c.cancelErr
}

func (c *fakeCarrier) CreateReturn(_ context.Context, req shipping.ReturnRequest) (shipping.Shipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returns = append(c.returns, req)
	if c.returnErr != nil {
		return shipping.Shipment{}, c.returnErr
	}
	return shipping.Shipment{ExternalID: "SR-" + req.OrderID}, nil
}

func (c *fakeCarrier) Track(_ context.Context, externalID string) (shipping.TrackingInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackErr != nil {
		return shipping.TrackingInfo{}, c.trackErr
	}
	info := c.tracking
	info.ExternalID = externalID
	return info, nil
}

func (c *fakeCarrier) createCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

// flakyLedger fails the nth Reserve call with a stock shortfall.
type flakyLedger struct {
	*memory.InventoryLedger
	mu     sync.Mutex
	calls  int
	failAt int
}

func (l *flakyLedger) Reserve(ctx context.Context, productID string, quantity int) error {
	l.mu.Lock()
	l.calls++
	fail := l.calls == l.failAt
	l.mu.Unlock()
	if fail {
		return inventory.InsufficientStock(productID)
	}
	return l.InventoryLedger.Reserve(ctx, productID, quantity)
}

var errBoom = errors.New("boom")

type harness struct {
	svc       *Service
	orders    *memory.OrderRepository
	payments  *memory.PaymentRepository
	shipments *memory.ShippingRepository
	ledger    inventory.Ledger
	gateway   *fakeGateway
	carrier   *fakeCarrier
	events    *recordingPublisher
	now       time.Time
}

type harnessOption func(*Deps, *Policy)

func withLedger(l inventory.Ledger) harnessOption {
	return func(d *Deps, _ *Policy) { d.Ledger = l }
}

func withLocker(l Locker, wait time.Duration) harnessOption {
	return func(d *Deps, p *Policy) { d.Locker, p.LockWait = l, wait }
}

func withRestockOnCancel() harnessOption {
	return func(_ *Deps, p *Policy) { p.RestockOnCancel = true }
}

func catalog() *memory.InventoryLedger {
	return memory.NewInventoryLedger(
		inventory.Product{ID: "A", Name: "Lamp", SKU: "LMP-1", Price: decimal.RequireFromString("100"), Stock: 10},
		inventory.Product{ID: "B", Name: "Mug", SKU: "MUG-1", Price: decimal.RequireFromString("50"), Stock: 10},
	)
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		orders:    memory.NewOrderRepository(),
		payments:  memory.NewPaymentRepository(),
		shipments: memory.NewShippingRepository(),
		gateway:   &fakeGateway{},
		carrier:   &fakeCarrier{},
		events:    &recordingPublisher{},
		now:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Orders:    h.orders,
		Payments:  h.payments,
		Shipments: h.shipments,
		Ledger:    catalog(),
		Gateway:   h.gateway,
		Carrier:   h.carrier,
		Publisher: h.events,
		Locker:    memory.NewLocker(),
		IDs:       &seqIDs{},
		Now:       func() time.Time { return h.now },
	}
	policy := DefaultPolicy()
	for _, opt := range opts {
		opt(&deps, &policy)
	}
	h.ledger = deps.Ledger
	h.svc = NewService(deps, policy, observability.Nop())
	return h
}

func (h *harness) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := h.ledger.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("stock %s: %v", productID, err)
	}
	return p.Stock
}
