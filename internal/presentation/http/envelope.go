package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
)

// envelope is the body of every response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload envelope) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"internal server error","data":null}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondOK(w http.ResponseWriter, message string, data any) {
	respondWithJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func respondWithError(w http.ResponseWriter, code int, message string, data any) {
	respondWithJSON(w, code, envelope{Success: false, Message: message, Data: data})
}

// respondWithServiceError maps a use-case error to a status and a client-safe message.
// Server-side failures are logged with the request logger and never echoed.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := mapError(err)
	if code >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("request_failed",
			observability.F("status", code),
			observability.Err(err),
		)
	}
	respondWithError(w, code, message, nil)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, fulfillment.ErrOrderBusy):
		return http.StatusInternalServerError, "order is being processed, please retry shortly"
	case errors.Is(err, fulfillment.ErrForbidden):
		return http.StatusForbidden, "you are not allowed to perform this action on the order"
	case errors.Is(err, fulfillment.ErrValidation),
		errors.Is(err, fulfillment.ErrBusinessRule):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound, "payment not found"
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, shipping.ErrNotFound),
		errors.Is(err, shipping.ErrShipmentNotFound):
		return http.StatusNotFound, "shipment not found"
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusInternalServerError, "payment gateway is unavailable, please retry"
	case errors.Is(err, shipping.ErrCarrierUnavailable):
		return http.StatusInternalServerError, "shipping carrier is unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
