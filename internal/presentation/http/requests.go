package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	apppayment "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxRequestBody = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// decodeAndValidate writes the 400 response itself and reports whether the handler may go on.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err), nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.respondWithServiceError(w, r, err)
			return false
		}
		details := make([]fieldError, 0, len(verrs))
		names := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			field := fe.Namespace()
			if i := strings.IndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			details = append(details, fieldError{Field: field, Rule: fe.Tag()})
			names = append(names, field)
		}
		respondWithError(w, http.StatusBadRequest, "validation failed: "+strings.Join(names, ", "), details)
		return false
	}
	return true
}

type contactRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

type discountRequest struct {
	Kind  string          `json:"kind" validate:"required,oneof=none percentage flat"`
	Value decimal.Decimal `json:"value"`
}

type lineRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Discount  *discountRequest `json:"discount,omitempty"`
	TaxPct    decimal.Decimal  `json:"tax_pct"`
}

type CreateOrderRequest struct {
	Contact           contactRequest `json:"contact"`
	Items             []lineRequest  `json:"items" validate:"required,min=1,dive"`
	ShippingAddressID string         `json:"shipping_address_id" validate:"required"`
	PaymentMethod     string         `json:"payment_method" validate:"required,oneof=gateway cod"`
}

func (req CreateOrderRequest) toInput(buyer fulfillment.Actor) (fulfillment.CreateOrderInput, error) {
	lines := make([]order.LineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		var d order.Discount = order.NoDiscount{}
		if it.Discount != nil {
			var err error
			if d, err = order.NewDiscount(it.Discount.Kind, it.Discount.Value); err != nil {
				return fulfillment.CreateOrderInput{}, fmt.Errorf("%w: product %s: %w", fulfillment.ErrValidation, it.ProductID, err)
			}
		}
		lines = append(lines, order.LineRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Discount:  d,
			TaxPct:    it.TaxPct,
		})
	}
	return fulfillment.CreateOrderInput{
		Buyer:             buyer,
		Contact:           order.Contact{Name: req.Contact.Name, Email: req.Contact.Email, Phone: req.Contact.Phone},
		Lines:             lines,
		ShippingAddressID: req.ShippingAddressID,
		PaymentMethod:     payment.Method(req.PaymentMethod),
	}, nil
}

type paymentProofRequest struct {
	IntentID  string `json:"intent_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type VerifyPaymentRequest struct {
	OrderID       string               `json:"order_id" validate:"required"`
	PaymentMethod string               `json:"payment_method" validate:"required,oneof=gateway cod"`
	Address       shipping.Address     `json:"address"`
	Gateway       *paymentProofRequest `json:"gateway,omitempty" validate:"required_if=PaymentMethod gateway"`
}

func (req VerifyPaymentRequest) toInput(buyer fulfillment.Actor) fulfillment.VerifyPaymentInput {
	in := fulfillment.VerifyPaymentInput{
		OrderID: req.OrderID,
		Buyer:   buyer,
		Address: req.Address,
		Method:  payment.Method(req.PaymentMethod),
	}
	if req.Gateway != nil {
		in.Proof = fulfillment.PaymentProof{
			IntentID:  req.Gateway.IntentID,
			PaymentID: req.Gateway.PaymentID,
			Signature: req.Gateway.Signature,
		}
	}
	return in
}

type itemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type ItemsRequest struct {
	Reason string        `json:"reason" validate:"required,max=500"`
	Items  []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req ItemsRequest) toInput(orderID string, actor fulfillment.Actor) fulfillment.ItemsRequestInput {
	items := make([]order.ItemQuantity, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.ItemQuantity{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return fulfillment.ItemsRequestInput{OrderID: orderID, Actor: actor, Reason: req.Reason, Items: items}
}

type OverrideStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=shipped delivered"`
}

type RefundRequest struct {
	Reason string          `json:"reason" validate:"required,max=500"`
	Amount decimal.Decimal `json:"amount"`
}

func (req RefundRequest) toInput(orderID string, actor fulfillment.Actor) apppayment.RefundPaymentInput {
	return apppayment.RefundPaymentInput{OrderID: orderID, Actor: actor, Reason: req.Reason, Amount: req.Amount}
}

type lineResponse struct {
	ProductID         string          `json:"product_id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	DiscountKind      string          `json:"discount_kind"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	TaxPct            decimal.Decimal `json:"tax_pct"`
	FinalUnitPrice    decimal.Decimal `json:"final_unit_price"`
	LineTotal         decimal.Decimal `json:"line_total"`
	ReturnRequested   bool            `json:"return_requested,omitempty"`
	ExchangeRequested bool            `json:"exchange_requested,omitempty"`
	FlaggedQuantity   int             `json:"flagged_quantity,omitempty"`
	Reason            string          `json:"reason,omitempty"`
}

type OrderResponse struct {
	ID                 string          `json:"id"`
	BuyerID            string          `json:"buyer_id"`
	Status             order.Status    `json:"status"`
	ShippingStatus     shipping.Status `json:"shipping_status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentID          string          `json:"payment_id"`
	ExternalShipmentID string          `json:"external_shipment_id,omitempty"`
	Items              []lineResponse  `json:"items"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toOrderResponse(o *order.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	items := make([]lineResponse, 0, len(o.Items))
	for _, it := range o.Items {
		kind, value := order.DiscountNone, decimal.Zero
		if it.Discount != nil {
			kind, value = it.Discount.Kind(), it.Discount.Value()
		}
		items = append(items, lineResponse{
			ProductID:         it.ProductID,
			Name:              it.Name,
			SKU:               it.SKU,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			DiscountKind:      kind,
			DiscountValue:     value,
			TaxPct:            it.TaxPct,
			FinalUnitPrice:    it.FinalUnitPrice.Round(2),
			LineTotal:         it.LineTotal.Round(2),
			ReturnRequested:   it.ReturnRequested,
			ExchangeRequested: it.ExchangeRequested,
			FlaggedQuantity:   it.FlaggedQuantity,
			Reason:            it.Reason,
		})
	}
	return &OrderResponse{
		ID:                 o.ID,
		BuyerID:            o.BuyerID,
		Status:             o.Status,
		ShippingStatus:     o.ShippingStatus,
		TotalAmount:        o.TotalAmount,
		PaymentID:          o.PaymentID,
		ExternalShipmentID: o.ExternalShipmentID,
		Items:              items,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type PaymentResponse struct {
	ID            string           `json:"id"`
	Method        payment.Method   `json:"method"`
	Status        payment.Status   `json:"status"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	TransactionID string           `json:"transaction_id"`
	RefundID      string           `json:"refund_id,omitempty"`
	RefundAmount  *decimal.Decimal `json:"refund_amount,omitempty"`
}

func toPaymentResponse(p *payment.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	out := &PaymentResponse{
		ID:            p.ID,
		Method:        p.Method,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
	}
	if p.Refund != nil {
		amount := p.Refund.Amount
		out.RefundID, out.RefundAmount = p.Refund.ID, &amount
	}
	return out
}

type ShippingResponse struct {
	ID                string           `json:"id"`
	Status            shipping.Status  `json:"status"`
	Address           shipping.Address `json:"address"`
	TrackingNumber    string           `json:"tracking_number,omitempty"`
	CarrierName       string           `json:"carrier_name,omitempty"`
	EstimatedDelivery time.Time        `json:"estimated_delivery"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
}

func toShippingResponse(s *shipping.Shipping) *ShippingResponse {
	if s == nil {
		return nil
	}
	return &ShippingResponse{
		ID:                s.ID,
		Status:            s.Status,
		Address:           s.Address,
		TrackingNumber:    s.TrackingNumber,
		CarrierName:       s.CarrierName,
		EstimatedDelivery: s.EstimatedDelivery,
		DeliveredAt:       s.DeliveredAt,
	}
}
