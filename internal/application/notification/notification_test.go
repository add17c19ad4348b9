package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []Message
	fail map[string]error
}

func (i *inbox) Send(_ context.Context, msg Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, to := range msg.To {
		if err := i.fail[to]; err != nil {
			return err
		}
	}
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) sent() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Message(nil), i.msgs...)
}

func confirmed() domorder.ConfirmedEvent {
	return domorder.ConfirmedEvent{
		OrderID:            "o1",
		BuyerID:            "b1",
		BuyerName:          "Asha",
		BuyerEmail:         "asha@example.com",
		TotalAmount:        decimal.RequireFromString("247.25"),
		PaymentMethod:      "gateway",
		ExternalShipmentID: "SR-o1",
		TrackingNumber:     "AWB-1",
		EstimatedDelivery:  time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		Lines: []domorder.EventLine{
			{ProductID: "A", Name: "Lamp", SKU: "LMP-1", Quantity: 2, LineTotal: decimal.NewFromInt(200)},
			{ProductID: "B", Name: "Mug", SKU: "MUG-1", Quantity: 1, LineTotal: decimal.RequireFromString("47.25")},
		},
	}
}

func TestSendConfirmation_BuyerAndInternal(t *testing.T) {
	box := &inbox{}
	uc := NewSendConfirmationUseCase(box, []string{"ops@example.com"}, "INR", nil)

	res, err := uc.Execute(context.Background(), confirmed())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	msgs := box.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"asha@example.com"}, msgs[0].To)
	assert.Equal(t, "Order o1 confirmed", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "Hi Asha")
	assert.Contains(t, msgs[0].Body, "2 x Lamp (LMP-1)  200.00 INR")
	assert.Contains(t, msgs[0].Body, "Total: 247.25 INR")
	assert.Contains(t, msgs[0].Body, "Tracking number: AWB-1")
	assert.Contains(t, msgs[0].Body, "08 Mar 2024")

	assert.Equal(t, []string{"ops@example.com"}, msgs[1].To)
	assert.Contains(t, msgs[1].Body, "SR-o1")
}

func TestSendConfirmation_PartialFailure(t *testing.T) {
	box := &inbox{fail: map[string]error{"ops@example.com": errors.New("smtp down")}}
	uc := NewSendConfirmationUseCase(box, []string{"ops@example.com"}, "INR", nil)

	res, err := uc.Execute(context.Background(), confirmed())
	require.Error(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
}

func TestSendConfirmation_NoBuyerEmail(t *testing.T) {
	box := &inbox{}
	uc := NewSendConfirmationUseCase(box, nil, "INR", nil)
	evt := confirmed()
	evt.BuyerEmail = ""

	res, err := uc.Execute(context.Background(), evt)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
}

func TestWorker_SendsOnOrderConfirmed(t *testing.T) {
	box := &inbox{}
	bus := outbox.NewBus(nil, outbox.Options{})
	NewWorker(bus, NewSendConfirmationUseCase(box, nil, "INR", nil), nil).Start()
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), domorder.CreatedEvent{OrderID: "o1"}))
	require.NoError(t, bus.Publish(context.Background(), confirmed()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(ctx)

	msgs := box.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Order o1 confirmed", msgs[0].Subject)
}
