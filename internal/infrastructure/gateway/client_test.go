package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", KeyID: "rzp_key", KeySecret: "s3cret", Timeout: 200 * time.Millisecond}, nil)
}

func TestCreateIntent_SendsMinorUnitsWithBasicAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "s3cret", pass)

		var body intentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 24725, body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "o1", body.Receipt)

		_ = json.NewEncoder(w).Encode(intentResponse{ID: "order_Abc", Amount: body.Amount, Currency: body.Currency, Receipt: body.Receipt})
	})

	intent, err := c.CreateIntent(context.Background(), 24725, "INR", "o1")
	require.NoError(t, err)
	assert.Equal(t, payment.Intent{ID: "order_Abc", AmountMinor: 24725, Currency: "INR", Receipt: "o1"}, intent)
}

func TestCreateIntent_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request is a rejection", http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`, payment.ErrPaymentRejected},
		{"auth failure is unavailable", http.StatusUnauthorized, `{}`, payment.ErrGatewayUnavailable},
		{"server error is unavailable", http.StatusBadGateway, ``, payment.ErrGatewayUnavailable},
		{"rate limit is unavailable", http.StatusTooManyRequests, ``, payment.ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.CreateIntent(context.Background(), 100, "INR", "o1")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateIntent_RejectionCarriesGatewayMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"description":"currency not supported"}}`))
	})
	_, err := c.CreateIntent(context.Background(), 100, "XYZ", "o1")
	require.ErrorIs(t, err, payment.ErrPaymentRejected)
	assert.Contains(t, err.Error(), "currency not supported")
}

func TestCreateIntent_TimeoutIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	_, err := c.CreateIntent(context.Background(), 100, "INR", "o1")
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.NotErrorIs(t, err, payment.ErrPaymentRejected)
}

func TestRefund(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_ABCDEFGHIJ1234/refund", r.URL.Path)
		var body refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 10050, body.Amount)
		_, _ = w.Write([]byte(`{"id":"rfnd_1"}`))
	})

	id, err := c.Refund(context.Background(), "pay_ABCDEFGHIJ1234", 10050)
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", id)
}

func TestVerifySignature(t *testing.T) {
	c := New(Config{KeySecret: "s3cret"}, nil)
	sig := Sign("s3cret", "order_Abc", "pay_ABCDEFGHIJ1234")

	assert.Len(t, sig, 64)
	assert.True(t, c.VerifySignature("order_Abc", "pay_ABCDEFGHIJ1234", sig))
	assert.False(t, c.VerifySignature("order_Abc", "pay_ABCDEFGHIJ9999", sig))
	assert.False(t, c.VerifySignature("order_Abc", "pay_ABCDEFGHIJ1234", Sign("other", "order_Abc", "pay_ABCDEFGHIJ1234")))
}
