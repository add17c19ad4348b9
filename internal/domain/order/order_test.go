package order

import (
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newOrder(t *testing.T) *Order {
	t.Helper()
	lines, err := BuildLines([]LineRequest{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 3},
	}, catalog())
	require.NoError(t, err)
	o, err := New("o-1", "buyer-1", Contact{Name: "Ann", Email: "ann@example.com"}, lines, "addr-1", "pay-1", now)
	require.NoError(t, err)
	return o
}

func TestNew(t *testing.T) {
	o := newOrder(t)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, shipping.StatusPending, o.ShippingStatus)
	assert.True(t, o.TotalAmount.Equal(dec("350")))

	_, err := New("o-2", "b", Contact{}, nil, "a", "p", now)
	require.ErrorIs(t, err, ErrNoLineItems)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusPending, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusReturnRequested, true},
		{StatusDelivered, StatusExchangeRequested, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusReturnRequested, false},
		{StatusReturnRequested, StatusExchangeRequested, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrder_ConfirmAndRevert(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.Confirm(now))
	assert.Equal(t, StatusConfirmed, o.Status)

	o.AttachShipment("ship-9", now)
	require.NoError(t, o.RevertConfirmation("addr-placeholder", now))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "addr-placeholder", o.ShippingAddressID)
	assert.Empty(t, o.ExternalShipmentID)

	require.ErrorIs(t, o.RevertConfirmation("x", now), ErrInvalidStateTransition)
}

func TestOrder_CancelShippedRejected(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.Confirm(now))
	require.NoError(t, o.MarkShipped(now))

	err := o.Cancel(now)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, shipping.StatusShipped, o.ShippingStatus)
}

func TestOrder_RequestReturn(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.Confirm(now))
	require.NoError(t, o.MarkShipped(now))
	require.NoError(t, o.MarkDelivered(now))

	require.NoError(t, o.RequestReturn("damaged", []ItemQuantity{{ProductID: "B", Quantity: 2}}, now))
	assert.Equal(t, StatusReturnRequested, o.Status)
	assert.Equal(t, shipping.StatusReturnRequested, o.ShippingStatus)
	assert.False(t, o.Items[0].ReturnRequested)
	assert.True(t, o.Items[1].ReturnRequested)
	assert.Equal(t, 2, o.Items[1].FlaggedQuantity)
	assert.Equal(t, "damaged", o.Items[1].Reason)
}

func TestOrder_RequestReturnValidation(t *testing.T) {
	delivered := func() *Order {
		o := newOrder(t)
		require.NoError(t, o.Confirm(now))
		require.NoError(t, o.MarkShipped(now))
		require.NoError(t, o.MarkDelivered(now))
		return o
	}

	tests := []struct {
		name    string
		items   []ItemQuantity
		wantErr error
	}{
		{name: "not in order", items: []ItemQuantity{{ProductID: "Z", Quantity: 1}}, wantErr: ErrItemNotInOrder},
		{name: "too many", items: []ItemQuantity{{ProductID: "A", Quantity: 3}}, wantErr: ErrQuantityExceedsLine},
		{name: "duplicate request", items: []ItemQuantity{{ProductID: "A", Quantity: 1}, {ProductID: "A", Quantity: 1}}, wantErr: ErrItemAlreadyFlagged},
		{name: "empty", items: nil, wantErr: ErrItemNotInOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := delivered()
			err := o.RequestExchange("size", tt.items, now)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StatusDelivered, o.Status)
			assert.Equal(t, shipping.StatusDelivered, o.ShippingStatus)
			for _, l := range o.Items {
				assert.False(t, l.ExchangeRequested)
			}
		})
	}

	o := newOrder(t)
	err := o.RequestReturn("x", []ItemQuantity{{ProductID: "A", Quantity: 1}}, now)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestOrder_CloneIsDeep(t *testing.T) {
	o := newOrder(t)
	c := o.Clone()
	c.Items[0].Quantity = 99
	assert.Equal(t, 2, o.Items[0].Quantity)
}
