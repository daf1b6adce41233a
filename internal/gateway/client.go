// Package gateway is the thin client for the external payment
// gateway: order creation, payment polling and refund requests, plus
// the signature helpers reconciliation verifies inbound events with.
// Only the contract this engine needs is modeled here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Client talks to the gateway's REST API using key/secret basic auth.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewClientFromEnv builds a Client from PAYMENT_GATEWAY_URL,
// PAYMENT_GATEWAY_KEY and PAYMENT_GATEWAY_SECRET. The secret doubles
// as the webhook HMAC key unless PAYMENT_WEBHOOK_SECRET overrides it.
func NewClientFromEnv() (*Client, error) {
	base := os.Getenv("PAYMENT_GATEWAY_URL")
	key := os.Getenv("PAYMENT_GATEWAY_KEY")
	secret := os.Getenv("PAYMENT_GATEWAY_SECRET")
	if base == "" || key == "" || secret == "" {
		return nil, fmt.Errorf("gateway: PAYMENT_GATEWAY_URL, PAYMENT_GATEWAY_KEY and PAYMENT_GATEWAY_SECRET are required")
	}
	return &Client{
		BaseURL:   base,
		KeyID:     key,
		KeySecret: secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Order is the gateway's view of a created order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is the gateway's view of one payment.
type Payment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"` // unix seconds
}

// RefundAck is the gateway's acknowledgement of a refund request.
type RefundAck struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// CreateOrder creates a gateway order for the given amount in minor
// units. The receipt carries the internal booking reference so the
// order can be traced back from the gateway dashboard.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Order, error) {
	body := map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, nil, &out); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	return out, nil
}

// FetchPayment polls the gateway for a payment's current state. The
// call is a pure read, so transient failures are retried with
// exponential backoff.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out Payment
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Payment{}, ctx.Err()
			}
			backoff *= 2
		}
		lastErr = c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, nil, &out)
		if lastErr == nil {
			return out, nil
		}
		log.Printf("gateway: fetch payment %s attempt %d failed: %v", paymentID, attempt+1, lastErr)
	}
	return Payment{}, fmt.Errorf("fetch payment: %w", lastErr)
}

// CreateRefund asks the gateway to refund amount minor units of the
// payment. The idempotency key makes the request safe to repeat; the
// call itself is made once and the refund webhooks finalize the
// outcome.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount int64, idempotencyKey string) (RefundAck, error) {
	body := map[string]any{"amount": amount}
	headers := map[string]string{"X-Idempotency-Key": idempotencyKey}
	var out RefundAck
	if err := c.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", body, headers, &out); err != nil {
		return RefundAck{}, fmt.Errorf("create refund: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
