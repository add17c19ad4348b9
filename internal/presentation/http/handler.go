package httppresentation

import (
	"context"
	"net/http"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	apppayment "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// FulfillmentService is the orchestrator surface the HTTP layer drives.
type FulfillmentService interface {
	CreateOrder(ctx context.Context, in fulfillment.CreateOrderInput) (*fulfillment.CreateOrderResult, error)
	VerifyPayment(ctx context.Context, in fulfillment.VerifyPaymentInput) (*fulfillment.VerifyPaymentResult, error)
	CancelOrder(ctx context.Context, in fulfillment.CancelOrderInput) (*fulfillment.CancelOrderResult, error)
	ReturnOrder(ctx context.Context, in fulfillment.ItemsRequestInput) (*fulfillment.ItemsRequestResult, error)
	ExchangeOrder(ctx context.Context, in fulfillment.ItemsRequestInput) (*fulfillment.ItemsRequestResult, error)
	TrackShipment(ctx context.Context, in fulfillment.TrackShipmentInput) (*fulfillment.TrackShipmentResult, error)
	OverrideStatus(ctx context.Context, in fulfillment.OverrideStatusInput) (*order.Order, error)
	GetOrder(ctx context.Context, orderID string, actor fulfillment.Actor) (*fulfillment.OrderView, error)
}

type RefundUseCase = application.UseCase[apppayment.RefundPaymentInput, *apppayment.RefundPaymentResult]

type Handler struct {
	service  FulfillmentService
	refunds  RefundUseCase
	validate *validator.Validate
	log      observability.Logger
	tel      observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	orderIDParam         = "orderID"
)

func NewHandler(service FulfillmentService, refunds RefundUseCase, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		service:  service,
		refunds:  refunds,
		validate: newValidator(),
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

// Router mounts every route. Order endpoints require an identity and
// the status override and refund endpoints require the admin role.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		h.withTrace,
		ObservabilityMiddleware(h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			func(r *http.Request) string { return r.Header.Get(headerTenantID) },
		),
		h.withAccessLog,
		h.withHTTPMetrics,
		middleware.RealIP,
		h.withRecover,
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "route not found", nil)
	})

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(withActor)
		r.Post("/orders", h.handleCreateOrder)
		r.Get("/orders/{orderID}", h.handleGetOrder)
		r.Post("/orders/{orderID}/cancel", h.handleCancelOrder)
		r.Post("/orders/{orderID}/return", h.handleReturnOrder)
		r.Post("/orders/{orderID}/exchange", h.handleExchangeOrder)
		r.Get("/orders/{orderID}/track", h.handleTrackShipment)
		r.Post("/payment/verify", h.handleVerifyPayment)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/orders/{orderID}/status", h.handleOverrideStatus)
			r.Post("/payments/{orderID}/refund", h.handleRefund)
		})
	})
	return r
}

type createOrderResponse struct {
	OrderID         string `json:"order_id"`
	PaymentID       string `json:"payment_id"`
	TotalAmount     string `json:"total_amount"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	PaymentMethod   string `json:"payment_method"`
	GatewayIntentID string `json:"gateway_intent_id,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	in, err := req.toInput(actorFrom(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	res, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "order created", createOrderResponse{
		OrderID:         res.OrderID,
		PaymentID:       res.PaymentID,
		TotalAmount:     res.TotalAmount.StringFixed(2),
		AmountMinor:     res.AmountMinor,
		Currency:        res.Currency,
		PaymentMethod:   string(res.PaymentMethod),
		GatewayIntentID: res.GatewayIntentID,
	})
}

type verifyPaymentResponse struct {
	OrderID            string `json:"order_id"`
	PaymentID          string `json:"payment_id"`
	ShippingID         string `json:"shipping_id,omitempty"`
	ExternalShipmentID string `json:"external_shipment_id,omitempty"`
	TrackingNumber     string `json:"tracking_number,omitempty"`
	EstimatedDelivery  string `json:"estimated_delivery,omitempty"`
	AlreadyVerified    bool   `json:"already_verified"`
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.VerifyPayment(r.Context(), req.toInput(actorFrom(r.Context())))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	out := verifyPaymentResponse{
		OrderID:            res.OrderID,
		PaymentID:          res.PaymentID,
		ShippingID:         res.ShippingID,
		ExternalShipmentID: res.ExternalShipmentID,
		TrackingNumber:     res.TrackingNumber,
		AlreadyVerified:    res.AlreadyVerified,
	}
	if !res.EstimatedDelivery.IsZero() {
		out.EstimatedDelivery = res.EstimatedDelivery.Format("2006-01-02")
	}
	message := "payment verified and order confirmed"
	if res.AlreadyVerified {
		message = "payment already verified"
	}
	respondOK(w, message, out)
}

type orderOutcomeResponse struct {
	Order            *OrderResponse `json:"order"`
	Restocked        bool           `json:"restocked,omitempty"`
	ReturnShipmentID string         `json:"return_shipment_id,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CancelOrder(r.Context(), fulfillment.CancelOrderInput{
		OrderID: chi.URLParam(r, orderIDParam),
		Actor:   actorFrom(r.Context()),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "order cancelled", orderOutcomeResponse{
		Order:     toOrderResponse(res.Order),
		Restocked: res.Restocked,
		Warnings:  warnings(res.CarrierWarning),
	})
}

func (h *Handler) handleReturnOrder(w http.ResponseWriter, r *http.Request) {
	h.handleItemsRequest(w, r, h.service.ReturnOrder, "return requested")
}

func (h *Handler) handleExchangeOrder(w http.ResponseWriter, r *http.Request) {
	h.handleItemsRequest(w, r, h.service.ExchangeOrder, "exchange requested")
}

func (h *Handler) handleItemsRequest(
	w http.ResponseWriter,
	r *http.Request,
	call func(context.Context, fulfillment.ItemsRequestInput) (*fulfillment.ItemsRequestResult, error),
	message string,
) {
	var req ItemsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := call(r.Context(), req.toInput(chi.URLParam(r, orderIDParam), actorFrom(r.Context())))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, message, orderOutcomeResponse{
		Order:            toOrderResponse(res.Order),
		ReturnShipmentID: res.ReturnShipmentID,
		Warnings:         warnings(res.CarrierWarning, res.RestockWarning),
	})
}

type trackResponse struct {
	OrderID     string                `json:"order_id"`
	OrderStatus order.Status          `json:"order_status"`
	Tracking    shipping.TrackingInfo `json:"tracking"`
}

func (h *Handler) handleTrackShipment(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.TrackShipment(r.Context(), fulfillment.TrackShipmentInput{
		OrderID: chi.URLParam(r, orderIDParam),
		Actor:   actorFrom(r.Context()),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "tracking retrieved", trackResponse{
		OrderID:     res.OrderID,
		OrderStatus: res.OrderStatus,
		Tracking:    res.Tracking,
	})
}

type orderViewResponse struct {
	Order    *OrderResponse    `json:"order"`
	Payment  *PaymentResponse  `json:"payment,omitempty"`
	Shipping *ShippingResponse `json:"shipping,omitempty"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetOrder(r.Context(), chi.URLParam(r, orderIDParam), actorFrom(r.Context()))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "order retrieved", orderViewResponse{
		Order:    toOrderResponse(view.Order),
		Payment:  toPaymentResponse(view.Payment),
		Shipping: toShippingResponse(view.Shipping),
	})
}

func (h *Handler) handleOverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req OverrideStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	o, err := h.service.OverrideStatus(r.Context(), fulfillment.OverrideStatusInput{
		OrderID: chi.URLParam(r, orderIDParam),
		Actor:   actorFrom(r.Context()),
		Status:  order.Status(req.Status),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "order status updated", toOrderResponse(o))
}

type refundResponse struct {
	PaymentID string `json:"payment_id"`
	RefundID  string `json:"refund_id"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.refunds.Execute(r.Context(), req.toInput(chi.URLParam(r, orderIDParam), actorFrom(r.Context())))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondOK(w, "payment refunded", refundResponse{
		PaymentID: res.PaymentID,
		RefundID:  res.RefundID,
		Amount:    res.Amount.StringFixed(2),
		Status:    string(res.Status),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, "ok", nil)
}

func warnings(msgs ...string) []string {
	var out []string
	for _, m := range msgs {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
