package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/shipping"
	"golang.org/x/time/rate"
)

const maxBody = 1 << 20

var errUnauthenticated = fmt.Errorf("%w: authentication rejected", shipping.ErrCarrierUnavailable)

type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
	// RatePerSecond caps outbound calls; zero means unlimited.
	RatePerSecond float64
	Burst         int
}

// Client is the shipping carrier adapter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	session *session
}

var _ shipping.Carrier = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PickupLocation == "" {
		cfg.PickupLocation = "Primary"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	c := &Client{cfg: cfg, http: httpClient, limiter: limiter}
	c.session = &session{login: c.authenticate}
	return c
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type createOrderRequest struct {
	OrderID         string      `json:"order_id"`
	OrderDate       string      `json:"order_date"`
	PickupLocation  string      `json:"pickup_location"`
	BillingName     string      `json:"billing_customer_name"`
	BillingAddress  string      `json:"billing_address"`
	BillingAddress2 string      `json:"billing_address_2,omitempty"`
	BillingCity     string      `json:"billing_city"`
	BillingPincode  string      `json:"billing_pincode"`
	BillingState    string      `json:"billing_state"`
	BillingCountry  string      `json:"billing_country"`
	BillingEmail    string      `json:"billing_email"`
	BillingPhone    string      `json:"billing_phone"`
	ShippingIsBill  bool        `json:"shipping_is_billing"`
	Items           []orderItem `json:"order_items"`
	PaymentMethod   string      `json:"payment_method"`
	SubTotal        string      `json:"sub_total"`
	Length          float64     `json:"length"`
	Breadth         float64     `json:"breadth"`
	Height          float64     `json:"height"`
	Weight          float64     `json:"weight"`
}

type createReturnRequest struct {
	OrderID        string      `json:"order_id"`
	OrderDate      string      `json:"order_date"`
	ChannelOrderID string      `json:"channel_order_id"`
	PickupName     string      `json:"pickup_customer_name"`
	PickupAddress  string      `json:"pickup_address"`
	PickupAddress2 string      `json:"pickup_address_2,omitempty"`
	PickupCity     string      `json:"pickup_city"`
	PickupState    string      `json:"pickup_state"`
	PickupCountry  string      `json:"pickup_country"`
	PickupPincode  string      `json:"pickup_pincode"`
	PickupEmail    string      `json:"pickup_email"`
	PickupPhone    string      `json:"pickup_phone"`
	ShippingName   string      `json:"shipping_customer_name"`
	Items          []orderItem `json:"order_items"`
	PaymentMethod  string      `json:"payment_method"`
	SubTotal       string      `json:"sub_total"`
	ReturnReason   string      `json:"return_reason,omitempty"`
	Length         float64     `json:"length"`
	Breadth        float64     `json:"breadth"`
	Height         float64     `json:"height"`
	Weight         float64     `json:"weight"`
}

type createOrderResponse struct {
	OrderID     json.Number `json:"order_id"`
	ShipmentID  json.Number `json:"shipment_id"`
	AWBCode     string      `json:"awb_code"`
	CourierName string      `json:"courier_name"`
}

type cancelRequest struct {
	IDs []string `json:"ids"`
}

type trackResponse struct {
	TrackingData struct {
		ShipmentStatus json.Number `json:"shipment_status"`
		ShipmentTrack  []struct {
			CurrentStatus string `json:"current_status"`
			EDD           string `json:"edd"`
			DeliveredDate string `json:"delivered_date"`
		} `json:"shipment_track"`
		Activities []struct {
			Date     string `json:"date"`
			Activity string `json:"activity"`
			Location string `json:"location"`
		} `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error) {
	body := createOrderRequest{
		OrderID:         req.OrderID,
		OrderDate:       req.OrderDate.UTC().Format("2006-01-02 15:04"),
		PickupLocation:  c.cfg.PickupLocation,
		BillingName:     req.Address.Name,
		BillingAddress:  req.Address.Line1,
		BillingAddress2: req.Address.Line2,
		BillingCity:     req.Address.City,
		BillingPincode:  req.Address.PostalCode,
		BillingState:    req.Address.State,
		BillingCountry:  req.Address.Country,
		BillingEmail:    req.Email,
		BillingPhone:    req.Address.Phone,
		ShippingIsBill:  true,
		Items:           toItems(req.Items),
		PaymentMethod:   string(req.PaymentMode),
		SubTotal:        req.SubTotal.StringFixed(2),
		Length:          req.Parcel.LengthCM,
		Breadth:         req.Parcel.BreadthCM,
		Height:          req.Parcel.HeightCM,
		Weight:          req.Parcel.WeightKG,
	}
	var out createOrderResponse
	if err := c.call(ctx, "create_shipment", http.MethodPost, "/v1/external/orders/create/adhoc", body, &out); err != nil {
		return shipping.Shipment{}, err
	}
	return shipping.Shipment{
		ExternalID:     out.OrderID.String(),
		TrackingNumber: out.AWBCode,
		CarrierName:    out.CourierName,
	}, nil
}

func (c *Client) CancelShipment(ctx context.Context, externalIDs ...string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	return c.call(ctx, "cancel_shipment", http.MethodPost, "/v1/external/orders/cancel", cancelRequest{IDs: externalIDs}, nil)
}

func (c *Client) CreateReturn(ctx context.Context, req shipping.ReturnRequest) (shipping.Shipment, error) {
	a := req.PickupAddress
	body := createReturnRequest{
		OrderID:        req.OrderID,
		OrderDate:      time.Now().UTC().Format("2006-01-02"),
		ChannelOrderID: req.OriginalOrderID,
		PickupName:     a.Name,
		PickupAddress:  a.Line1,
		PickupAddress2: a.Line2,
		PickupCity:     a.City,
		PickupState:    a.State,
		PickupCountry:  a.Country,
		PickupPincode:  a.PostalCode,
		PickupEmail:    req.Email,
		PickupPhone:    a.Phone,
		ShippingName:   c.cfg.PickupLocation,
		Items:          toItems(req.Items),
		PaymentMethod:  "Prepaid",
		SubTotal:       req.SubTotal.StringFixed(2),
		ReturnReason:   req.Reason,
		Length:         req.Parcel.LengthCM,
		Breadth:        req.Parcel.BreadthCM,
		Height:         req.Parcel.HeightCM,
		Weight:         req.Parcel.WeightKG,
	}
	var out createOrderResponse
	if err := c.call(ctx, "create_return", http.MethodPost, "/v1/external/orders/create/return", body, &out); err != nil {
		return shipping.Shipment{}, err
	}
	return shipping.Shipment{ExternalID: out.OrderID.String(), TrackingNumber: out.AWBCode, CarrierName: out.CourierName}, nil
}

func (c *Client) Track(ctx context.Context, externalID string) (shipping.TrackingInfo, error) {
	var out trackResponse
	path := "/v1/external/courier/track?order_id=" + url.QueryEscape(externalID)
	if err := c.call(ctx, "track", http.MethodGet, path, nil, &out); err != nil {
		return shipping.TrackingInfo{}, err
	}

	info := shipping.TrackingInfo{ExternalID: externalID, Status: shipping.StatusPending}
	if tracks := out.TrackingData.ShipmentTrack; len(tracks) > 0 {
		latest := tracks[0]
		info.CarrierStatus = latest.CurrentStatus
		info.Status = mapStatus(latest.CurrentStatus)
		info.EstimatedDelivery = parseTime(latest.EDD)
		info.DeliveredAt = parseTime(latest.DeliveredDate)
	}
	for _, a := range out.TrackingData.Activities {
		at := parseTime(a.Date)
		act := shipping.TrackingActivity{Status: a.Activity, Location: a.Location}
		if at != nil {
			act.At = *at
		}
		info.Activities = append(info.Activities, act)
	}
	return info, nil
}

// call runs one authenticated request, re-authenticating once on 401.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		token, err := c.session.current(ctx)
		if err != nil {
			return err
		}
		res, err := c.send(ctx, method, path, token, body, out)
		if err != nil {
			return err
		}
		if res.status == http.StatusUnauthorized && attempt == 0 {
			c.session.invalidate(token)
			continue
		}
		return res.err(op)
	}
}

type result struct {
	status  int
	message string
}

func (r result) err(op string) error {
	switch {
	case r.status >= 200 && r.status < 300:
		return nil
	case r.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", shipping.ErrShipmentNotFound, op, r.message)
	case r.status == http.StatusUnauthorized, r.status == http.StatusTooManyRequests, r.status >= 500:
		return fmt.Errorf("%w: %s: status %d: %s", shipping.ErrCarrierUnavailable, op, r.status, r.message)
	default:
		return &shipping.CarrierError{Op: op, StatusCode: r.status, Message: r.message}
	}
}

// send performs the HTTP round trip. Transport failures become ErrCarrierUnavailable;
// any HTTP status is returned for the caller to classify.
func (c *Client) send(ctx context.Context, method, path, token string, body, out any) (result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return result{}, fmt.Errorf("%w: rate limiter: %w", shipping.ErrCarrierUnavailable, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return result{}, fmt.Errorf("carrier: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return result{}, fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("%w: %w", shipping.ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return result{}, fmt.Errorf("%w: read response: %w", shipping.ErrCarrierUnavailable, err)
	}
	res := result{status: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.message = errorMessage(raw, resp.StatusCode)
		return res, nil
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return result{}, fmt.Errorf("%w: decode response: %w", shipping.ErrCarrierUnavailable, err)
		}
	}
	return res, nil
}

func errorMessage(raw []byte, status int) string {
	var e errorBody
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return http.StatusText(status)
}

func toItems(items []shipping.Item) []orderItem {
	out := make([]orderItem, 0, len(items))
	for _, it := range items {
		out = append(out, orderItem{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Units,
			SellingPrice: it.SellingPrice.StringFixed(2),
		})
	}
	return out
}

// mapStatus folds the carrier's free-text status into the local shipping status.
func mapStatus(s string) shipping.Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DELIVERED":
		return shipping.StatusDelivered
	case "IN TRANSIT", "OUT FOR DELIVERY", "REACHED AT DESTINATION HUB":
		return shipping.StatusInTransit
	case "SHIPPED", "PICKED UP", "PICKUP COMPLETE":
		return shipping.StatusShipped
	case "CANCELED", "CANCELLED", "RTO DELIVERED":
		return shipping.StatusCancelled
	default:
		return shipping.StatusPending
	}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "0000-00-00 00:00:00" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.Unix(unix, 0).UTC()
		return &t
	}
	return nil
}
