package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryLedger_ConcurrentReservationsNeverOversell(t *testing.T) {
	const stock, buyers = 5, 40
	ledger := NewInventoryLedger(inventory.Product{ID: "p1", Name: "Mug", Stock: stock})

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(context.Background(), "p1", 1); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	p, err := ledger.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestInventoryLedger_UnknownProduct(t *testing.T) {
	ledger := NewInventoryLedger()
	require.ErrorIs(t, ledger.Reserve(context.Background(), "nope", 1), inventory.ErrNotFound)
	require.ErrorIs(t, ledger.Restore(context.Background(), "nope", 1), inventory.ErrNotFound)
}

func TestOrderRepository_UpdateChecksVersion(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	o := &order.Order{ID: "o1", Status: order.StatusPending}
	require.NoError(t, repo.Insert(ctx, o))
	require.ErrorIs(t, repo.Insert(ctx, o), order.ErrConflict)

	first, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "o1")
	require.NoError(t, err)

	first.Status = order.StatusConfirmed
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 1, first.Version)

	second.Status = order.StatusCancelled
	require.ErrorIs(t, repo.Update(ctx, second), order.ErrConflict)

	stored, err := repo.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestPaymentRepository_TransactionIsUniquePerMethod(t *testing.T) {
	repo := NewPaymentRepository()
	ctx := context.Background()
	now := time.Now()

	p1, err := payment.New("pay1", "b", "o1", payment.MethodGateway, "order_X", decimal.NewFromInt(10), "INR", now)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, p1))

	dup, err := payment.New("pay2", "b", "o2", payment.MethodGateway, "order_X", decimal.NewFromInt(10), "INR", now)
	require.NoError(t, err)
	require.ErrorIs(t, repo.Insert(ctx, dup), payment.ErrConflict)

	cod, err := payment.New("pay3", "b", "o3", payment.MethodCashOnDelivery, "order_X", decimal.NewFromInt(10), "INR", now)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, cod))
}

func TestShippingRepository_OnePerOrderAndDelete(t *testing.T) {
	repo := NewShippingRepository()
	ctx := context.Background()
	addr := shipping.Address{Name: "A", Phone: "1", Line1: "x", City: "c", State: "s", PostalCode: "p", Country: "IN"}

	s1, err := shipping.New("s1", "b", "o1", addr, time.Now(), time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, s1))

	s2, err := shipping.New("s2", "b", "o1", addr, time.Now(), time.Now())
	require.NoError(t, err)
	require.Error(t, repo.Insert(ctx, s2))

	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err = repo.FindByOrder(ctx, "o1")
	require.ErrorIs(t, err, shipping.ErrNotFound)
	assert.Equal(t, 0, repo.Len())
}

func TestLocker_SerialisesPerKey(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "o1")
	require.NoError(t, err)

	otherKey, err := l.Lock(ctx, "o2")
	require.NoError(t, err)
	otherKey()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "o1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.Lock(ctx, "o1")
	require.NoError(t, err)
	again()
}
