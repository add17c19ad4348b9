package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	apppayment "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	infraobs "github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockService struct{ mock.Mock }

func (m *mockService) CreateOrder(ctx context.Context, in fulfillment.CreateOrderInput) (*fulfillment.CreateOrderResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.CreateOrderResult)
	return res, args.Error(1)
}

func (m *mockService) VerifyPayment(ctx context.Context, in fulfillment.VerifyPaymentInput) (*fulfillment.VerifyPaymentResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.VerifyPaymentResult)
	return res, args.Error(1)
}

func (m *mockService) CancelOrder(ctx context.Context, in fulfillment.CancelOrderInput) (*fulfillment.CancelOrderResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.CancelOrderResult)
	return res, args.Error(1)
}

func (m *mockService) ReturnOrder(ctx context.Context, in fulfillment.ItemsRequestInput) (*fulfillment.ItemsRequestResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.ItemsRequestResult)
	return res, args.Error(1)
}

func (m *mockService) ExchangeOrder(ctx context.Context, in fulfillment.ItemsRequestInput) (*fulfillment.ItemsRequestResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.ItemsRequestResult)
	return res, args.Error(1)
}

func (m *mockService) TrackShipment(ctx context.Context, in fulfillment.TrackShipmentInput) (*fulfillment.TrackShipmentResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*fulfillment.TrackShipmentResult)
	return res, args.Error(1)
}

func (m *mockService) OverrideStatus(ctx context.Context, in fulfillment.OverrideStatusInput) (*order.Order, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*order.Order)
	return res, args.Error(1)
}

func (m *mockService) GetOrder(ctx context.Context, orderID string, actor fulfillment.Actor) (*fulfillment.OrderView, error) {
	args := m.Called(ctx, orderID, actor)
	res, _ := args.Get(0).(*fulfillment.OrderView)
	return res, args.Error(1)
}

type mockRefunds struct{ mock.Mock }

func (m *mockRefunds) Execute(ctx context.Context, in apppayment.RefundPaymentInput) (*apppayment.RefundPaymentResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*apppayment.RefundPaymentResult)
	return res, args.Error(1)
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	svc     *mockService
	refunds *mockRefunds
	router  http.Handler
	reg     *prometheus.Registry
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	tel := infraobs.NewProvider(infraobs.Config{
		ServiceName: "fulfillment",
		Logger:      zap.New(core),
		Registerer:  reg,
		Namespace:   "minishop",
	})
	h := &harness{svc: &mockService{}, refunds: &mockRefunds{}, reg: reg, logs: logs}
	h.router = NewHandler(h.svc, h.refunds, tel).Router()
	t.Cleanup(func() {
		h.svc.AssertExpectations(t)
		h.refunds.AssertExpectations(t)
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, role, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(headerUserID, "u-"+role)
		req.Header.Set(headerUserRole, role)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

const createBody = `{
	"contact": {"name": "Asha", "email": "asha@example.com", "phone": "9999999999"},
	"items": [
		{"product_id": "p-1", "quantity": 2, "discount": {"kind": "percentage", "value": "10"}, "tax_pct": "18"},
		{"product_id": "p-2", "quantity": 1}
	],
	"shipping_address_id": "addr-1",
	"payment_method": "gateway"
}`

func TestCreateOrder_ReturnsEnvelope(t *testing.T) {
	h := newHarness(t)
	h.svc.On("CreateOrder", mock.Anything, mock.MatchedBy(func(in fulfillment.CreateOrderInput) bool {
		return in.Buyer.ID == "u-buyer" &&
			in.Buyer.Role == fulfillment.RoleBuyer &&
			len(in.Lines) == 2 &&
			in.Lines[0].Discount.Kind() == order.DiscountPercentage &&
			in.Lines[0].TaxPct.Equal(decimal.NewFromInt(18)) &&
			in.Lines[1].Discount.Kind() == order.DiscountNone &&
			in.PaymentMethod == payment.MethodGateway
	})).Return(&fulfillment.CreateOrderResult{
		OrderID:         "o-1",
		PaymentID:       "p-1",
		TotalAmount:     decimal.RequireFromString("247.2"),
		AmountMinor:     24720,
		Currency:        "INR",
		PaymentMethod:   payment.MethodGateway,
		GatewayIntentID: "order_o-1",
	}, nil).Once()

	rec, env := h.do(t, http.MethodPost, "/orders", "buyer", createBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.True(t, env.Success)
	assert.Equal(t, "order created", env.Message)

	var data createOrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "247.20", data.TotalAmount)
	assert.Equal(t, int64(24720), data.AmountMinor)
	assert.Equal(t, "order_o-1", data.GatewayIntentID)
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "malformed json",
			body:    `{"items": [`,
			message: "invalid request payload",
		},
		{
			name:    "unknown field",
			body:    `{"coupon": "FREE"}`,
			message: "invalid request payload",
		},
		{
			name:    "no items",
			body:    `{"contact": {"name": "A", "email": "a@example.com", "phone": "1"}, "items": [], "shipping_address_id": "x", "payment_method": "cod"}`,
			message: "validation failed: items",
		},
		{
			name:    "bad quantity and method",
			body:    `{"contact": {"name": "A", "email": "a@example.com", "phone": "1"}, "items": [{"product_id": "p", "quantity": 0}], "shipping_address_id": "x", "payment_method": "card"}`,
			message: "validation failed: items[0].quantity, payment_method",
		},
		{
			name:    "percentage above hundred",
			body:    `{"contact": {"name": "A", "email": "a@example.com", "phone": "1"}, "items": [{"product_id": "p", "quantity": 1, "discount": {"kind": "percentage", "value": "120"}}], "shipping_address_id": "x", "payment_method": "cod"}`,
			message: "product p",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			rec, env := h.do(t, http.MethodPost, "/orders", "buyer", tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Message, tc.message)
			h.svc.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestValidationErrorsCarryFieldDetails(t *testing.T) {
	h := newHarness(t)
	_, env := h.do(t, http.MethodPost, "/payment/verify", "buyer", `{"order_id": "o-1", "payment_method": "gateway"}`)

	var details []fieldError
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.Equal(t, []fieldError{{Field: "gateway", Rule: "required_if"}}, details)
}

func TestIdentityAndRoles(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodGet, "/orders/o-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", env.Message)

	rec, _ = h.do(t, http.MethodGet, "/orders/o-1", "pirate", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/orders/o-1/status", "buyer", `{"status": "delivered"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin role required", env.Message)

	rec, _ = h.do(t, http.MethodPost, "/payments/o-1/refund", "supplier", `{"reason": "x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"forbidden", fmt.Errorf("%w: not your order", fulfillment.ErrForbidden), http.StatusForbidden, "you are not allowed to perform this action on the order"},
		{"business rule", fmt.Errorf("%w: order is already delivered", fulfillment.ErrBusinessRule), http.StatusBadRequest, "order is already delivered"},
		{"order missing", order.ErrNotFound, http.StatusNotFound, "order not found"},
		{"busy", fmt.Errorf("%w: redislock: lock:order:o-9 not acquired: %w", fulfillment.ErrOrderBusy, context.DeadlineExceeded), http.StatusInternalServerError, "order is being processed, please retry shortly"},
		{"carrier down", fmt.Errorf("cancel: %w", shipping.ErrCarrierUnavailable), http.StatusInternalServerError, "shipping carrier is unavailable, please retry"},
		{"unexpected", errors.New("pq: password authentication failed for user admin"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.svc.On("CancelOrder", mock.Anything, fulfillment.CancelOrderInput{
				OrderID: "o-9",
				Actor:   fulfillment.Actor{ID: "u-buyer", Role: fulfillment.RoleBuyer},
			}).Return(nil, tc.err).Once()

			rec, env := h.do(t, http.MethodPost, "/orders/o-9/cancel", "buyer", "")

			assert.Equal(t, tc.code, rec.Code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Message, tc.message)
			assert.NotContains(t, rec.Body.String(), "password")
			assert.NotContains(t, rec.Body.String(), "lock:order")
		})
	}
}

func TestServerErrorsAreLogged(t *testing.T) {
	h := newHarness(t)
	h.svc.On("GetOrder", mock.Anything, "o-1", mock.Anything).Return(nil, errors.New("connection reset")).Once()

	rec, _ := h.do(t, http.MethodGet, "/orders/o-1", "buyer", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failures := h.logs.FilterMessage("request_failed").All()
	require.Len(t, failures, 1)
	ctx := failures[0].ContextMap()
	assert.Equal(t, "http_server", ctx["component"])
	assert.NotEmpty(t, ctx["request_id"])
	assert.Equal(t, "connection reset", ctx["error"])
}

func TestGetOrder(t *testing.T) {
	h := newHarness(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.svc.On("GetOrder", mock.Anything, "o-1", fulfillment.Actor{ID: "u-sales", Role: fulfillment.RoleSales}).
		Return(&fulfillment.OrderView{
			Order: &order.Order{
				ID:          "o-1",
				BuyerID:     "b-1",
				Status:      order.StatusConfirmed,
				TotalAmount: decimal.RequireFromString("100.50"),
				PaymentID:   "p-1",
				Items: []order.LineItem{{
					ProductID:      "p-1",
					Name:           "Mug",
					Quantity:       1,
					UnitPrice:      decimal.RequireFromString("100.50"),
					Discount:       order.NoDiscount{},
					FinalUnitPrice: decimal.RequireFromString("100.50"),
					LineTotal:      decimal.RequireFromString("100.50"),
				}},
				CreatedAt: created,
				UpdatedAt: created,
			},
			Payment: &payment.Payment{ID: "p-1", Method: payment.MethodCashOnDelivery, Status: payment.StatusCompleted},
		}, nil).Once()

	rec, env := h.do(t, http.MethodGet, "/orders/o-1", "sales", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Order    OrderResponse     `json:"order"`
		Payment  *PaymentResponse  `json:"payment"`
		Shipping *ShippingResponse `json:"shipping"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, order.StatusConfirmed, data.Order.Status)
	require.Len(t, data.Order.Items, 1)
	assert.Equal(t, order.DiscountNone, data.Order.Items[0].DiscountKind)
	require.NotNil(t, data.Payment)
	assert.Equal(t, payment.StatusCompleted, data.Payment.Status)
	assert.Nil(t, data.Shipping)
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness(t)
	body := `{
		"order_id": "o-1",
		"payment_method": "gateway",
		"address": {"name": "Asha", "phone": "1", "line1": "1 Main", "city": "Pune", "state": "MH", "postal_code": "411001", "country": "IN"},
		"gateway": {"intent_id": "order_1", "payment_id": "pay_1", "signature": "abc"}
	}`
	h.svc.On("VerifyPayment", mock.Anything, mock.MatchedBy(func(in fulfillment.VerifyPaymentInput) bool {
		return in.OrderID == "o-1" &&
			in.Method == payment.MethodGateway &&
			in.Proof == fulfillment.PaymentProof{IntentID: "order_1", PaymentID: "pay_1", Signature: "abc"} &&
			in.Address.City == "Pune"
	})).Return(&fulfillment.VerifyPaymentResult{
		OrderID:            "o-1",
		PaymentID:          "p-1",
		ShippingID:         "s-1",
		ExternalShipmentID: "ext-1",
		TrackingNumber:     "AWB1",
		EstimatedDelivery:  time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC),
	}, nil).Once()

	rec, env := h.do(t, http.MethodPost, "/payment/verify", "buyer", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment verified and order confirmed", env.Message)

	var data verifyPaymentResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "2024-05-08", data.EstimatedDelivery)
	assert.Equal(t, "AWB1", data.TrackingNumber)
}

func TestReturnAndExchange(t *testing.T) {
	h := newHarness(t)
	want := fulfillment.ItemsRequestInput{
		OrderID: "o-1",
		Actor:   fulfillment.Actor{ID: "u-buyer", Role: fulfillment.RoleBuyer},
		Reason:  "damaged",
		Items:   []order.ItemQuantity{{ProductID: "p-1", Quantity: 1}},
	}
	h.svc.On("ReturnOrder", mock.Anything, want).Return(&fulfillment.ItemsRequestResult{
		Order:          &order.Order{ID: "o-1", Status: order.StatusReturnRequested},
		CarrierWarning: "return pickup could not be booked",
	}, nil).Once()
	h.svc.On("ExchangeOrder", mock.Anything, want).Return(&fulfillment.ItemsRequestResult{
		Order:            &order.Order{ID: "o-1", Status: order.StatusExchangeRequested},
		ReturnShipmentID: "rs-1",
	}, nil).Once()

	body := `{"reason": "damaged", "items": [{"product_id": "p-1", "quantity": 1}]}`

	rec, env := h.do(t, http.MethodPost, "/orders/o-1/return", "buyer", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var ret orderOutcomeResponse
	require.NoError(t, json.Unmarshal(env.Data, &ret))
	assert.Equal(t, []string{"return pickup could not be booked"}, ret.Warnings)

	rec, env = h.do(t, http.MethodPost, "/orders/o-1/exchange", "buyer", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exchange requested", env.Message)
	var ex orderOutcomeResponse
	require.NoError(t, json.Unmarshal(env.Data, &ex))
	assert.Equal(t, "rs-1", ex.ReturnShipmentID)
	assert.Empty(t, ex.Warnings)
}

func TestTrackAndOverride(t *testing.T) {
	h := newHarness(t)
	h.svc.On("TrackShipment", mock.Anything, fulfillment.TrackShipmentInput{
		OrderID: "o-1",
		Actor:   fulfillment.Actor{ID: "u-buyer", Role: fulfillment.RoleBuyer},
	}).Return(&fulfillment.TrackShipmentResult{
		OrderID:     "o-1",
		OrderStatus: order.StatusShipped,
		Tracking:    shipping.TrackingInfo{ExternalID: "ext-1", Status: shipping.StatusInTransit, CarrierStatus: "IN TRANSIT"},
	}, nil).Once()
	h.svc.On("OverrideStatus", mock.Anything, fulfillment.OverrideStatusInput{
		OrderID: "o-1",
		Actor:   fulfillment.Actor{ID: "u-admin", Role: fulfillment.RoleAdmin},
		Status:  order.StatusDelivered,
	}).Return(&order.Order{ID: "o-1", Status: order.StatusDelivered}, nil).Once()

	rec, env := h.do(t, http.MethodGet, "/orders/o-1/track", "buyer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr trackResponse
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, shipping.StatusInTransit, tr.Tracking.Status)

	rec, _ = h.do(t, http.MethodPost, "/orders/o-1/status", "admin", `{"status": "delivered"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/orders/o-1/status", "admin", `{"status": "pending"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	h.refunds.On("Execute", mock.Anything, mock.MatchedBy(func(in apppayment.RefundPaymentInput) bool {
		return in.OrderID == "o-1" && in.Actor.IsAdmin() && in.Amount.Equal(decimal.RequireFromString("10.5"))
	})).Return(&apppayment.RefundPaymentResult{
		PaymentID: "p-1",
		RefundID:  "rfnd_1",
		Amount:    decimal.RequireFromString("10.5"),
		Status:    payment.StatusRefunded,
	}, nil).Once()

	rec, env := h.do(t, http.MethodPost, "/payments/o-1/refund", "admin", `{"reason": "returned", "amount": "10.5"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var data refundResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, refundResponse{PaymentID: "p-1", RefundID: "rfnd_1", Amount: "10.50", Status: "refunded"}, data)
}

func TestUnknownRouteAndHealth(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodGet, "/nope", "buyer", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)

	rec, env = h.do(t, http.MethodDelete, "/orders", "buyer", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)

	rec, env = h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestHTTPMetricsUseRouteTemplate(t *testing.T) {
	h := newHarness(t)
	h.svc.On("GetOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil, order.ErrNotFound).Twice()

	h.do(t, http.MethodGet, "/orders/o-1", "buyer", "")
	h.do(t, http.MethodGet, "/orders/o-2", "buyer", "")

	expected := `
# HELP minishop_http_requests_total Total number of HTTP requests.
# TYPE minishop_http_requests_total counter
minishop_http_requests_total{method="GET",route="/orders/{orderID}",status="404"} 2
`
	require.NoError(t, testutil.GatherAndCompare(h.reg, strings.NewReader(expected), "minishop_http_requests_total"))
}

func TestPanicBecomesEnvelope(t *testing.T) {
	h := &Handler{log: observability.NopLogger()}
	rec := httptest.NewRecorder()
	h.withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"internal server error","data":null}`, rec.Body.String())
}

func TestRefund_NotRefundable(t *testing.T) {
	h := newHarness(t)
	h.refunds.On("Execute", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %w: order is confirmed", fulfillment.ErrBusinessRule, apppayment.ErrNotRefundable)).Once()

	rec, env := h.do(t, http.MethodPost, "/payments/o-1/refund", "admin", `{"reason": "x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "order is confirmed")
}
