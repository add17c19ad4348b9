package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
)

const maxErrorBody = 64 << 10

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to a hosted checkout provider with basic auth.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

type refundResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (payment.Intent, error) {
	var out intentResponse
	if err := c.do(ctx, "/v1/orders", intentRequest{Amount: amountMinor, Currency: currency, Receipt: receipt}, &out); err != nil {
		return payment.Intent{}, err
	}
	if out.ID == "" {
		return payment.Intent{}, fmt.Errorf("%w: intent response has no id", payment.ErrGatewayUnavailable)
	}
	return payment.Intent{ID: out.ID, AmountMinor: out.Amount, Currency: out.Currency, Receipt: out.Receipt}, nil
}

func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error) {
	if paymentID == "" {
		return "", fmt.Errorf("%w: payment id is required", payment.ErrPaymentRejected)
	}
	var out refundResponse
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := c.do(ctx, path, refundRequest{Amount: amountMinor}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// VerifySignature checks hex(HMAC-SHA256(secret, intentID|paymentID)) in constant time.
func (c *Client) VerifySignature(intentID, paymentID, signature string) bool {
	return hmac.Equal([]byte(Sign(c.cfg.KeySecret, intentID, paymentID)), []byte(strings.ToLower(signature)))
}

// Sign produces the checkout signature for an intent and payment pair.
func Sign(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %w", payment.ErrGatewayUnavailable, err)
		}
		return nil
	}
	return classify(resp)
}

// classify maps auth problems and server faults to unavailability; other 4xx are rejections.
func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := http.StatusText(resp.StatusCode)
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error.Description != "" {
		msg = e.Error.Description
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", payment.ErrGatewayUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: %s", payment.ErrPaymentRejected, msg)
	}
}
