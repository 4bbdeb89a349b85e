// Package gateway is the HTTP client for the external payment
// processor. It only reads payment state and creates checkout
// preferences; it never mutates orders.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tienda/checkout-service/pkg/metrics"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound = errors.New("payment not found at gateway")
	ErrUnavailable     = errors.New("payment gateway unavailable")
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	metrics *metrics.Checkout
	logger  *slog.Logger
}

func NewClient(baseURL, accessToken string, timeout time.Duration, m *metrics.Checkout, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   accessToken,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		logger:  logger,
	}
}

// Payment is the gateway's view of a single payment attempt. The
// external reference carries the order id the store embedded when the
// preference was created.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
	TransactionAmount decimal.Decimal
	CurrencyID        string
}

// AmountCents converts the gateway's decimal amount to integer cents,
// the unit the store keeps money in.
func (p *Payment) AmountCents() int64 {
	return p.TransactionAmount.Mul(decimal.NewFromInt(100)).IntPart()
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var wire struct {
		ID                json.Number     `json:"id"`
		Status            string          `json:"status"`
		ExternalReference string          `json:"external_reference"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
		CurrencyID        string          `json:"currency_id"`
	}

	if err := c.get(ctx, "get_payment", "/v1/payments/"+paymentID, &wire); err != nil {
		return nil, err
	}

	return &Payment{
		ID:                wire.ID.String(),
		Status:            wire.Status,
		ExternalReference: wire.ExternalReference,
		TransactionAmount: wire.TransactionAmount,
		CurrencyID:        wire.CurrencyID,
	}, nil
}

// PreferenceItem prices are decimal units of the currency, not cents;
// that is the vocabulary the gateway speaks.
type PreferenceItem struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Quantity   int32           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CurrencyID string          `json:"currency_id"`
}

type PreferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	Items             []PreferenceItem `json:"items"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	SuccessURL        string           `json:"success_url,omitempty"`
	FailureURL        string           `json:"failure_url,omitempty"`
}

// Preference is the gateway-side checkout intent; InitPoint is the
// redirect target the buyer is sent to.
type Preference struct {
	ID        string
	InitPoint string
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var wire struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := c.do(httpReq, "create_preference", &wire); err != nil {
		return nil, err
	}
	return &Preference{ID: wire.ID, InitPoint: wire.InitPoint}, nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.count(op, "unreachable")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.count(op, "not_found")
		return ErrPaymentNotFound
	case resp.StatusCode >= 500:
		c.count(op, "server_error")
		return fmt.Errorf("%w: gateway responded %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		c.count(op, "error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway responded %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.count(op, "bad_payload")
		return fmt.Errorf("decode gateway response: %w", err)
	}
	c.count(op, "ok")
	return nil
}

func (c *Client) count(op, result string) {
	if c.metrics != nil {
		c.metrics.GatewayRequests.WithLabelValues(op, result).Inc()
	}
}
