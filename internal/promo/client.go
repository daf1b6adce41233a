// Package promo talks to the external promo service that validates
// discount codes and prices the adjustment for a booking.
package promo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the promo service over HTTP. A nil Client (or an empty
// base URL) disables discounts; callers treat that as "no promo
// collaborator" rather than an error.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a promo client, or nil when no base URL is
// configured so the booking flow runs without discounts.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type applyRequest struct {
	PromoCode string  `json:"promo_code"`
	MatchID   uint64  `json:"match_id"`
	UserID    *uint64 `json:"user_id,omitempty"`
	Amount    int64   `json:"amount"`
}

type applyResponse struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
}

// ApplyDiscount validates the code and returns the discounted amount
// together with the discount taken off. An invalid or expired code is
// an error; the booking is not created with a silently ignored promo.
func (c *Client) ApplyDiscount(ctx context.Context, amount int64, promoCode string, matchID uint64, userID *uint64) (int64, int64, error) {
	body, err := json.Marshal(applyRequest{
		PromoCode: promoCode,
		MatchID:   matchID,
		UserID:    userID,
		Amount:    amount,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("promo: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/promos/apply", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("promo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("promo: call service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, 0, fmt.Errorf("promo: service returned %d: %s", resp.StatusCode, snippet)
	}

	var out applyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("promo: decode response: %w", err)
	}
	if !out.Valid {
		return 0, 0, fmt.Errorf("promo: code %q rejected: %s", promoCode, out.Reason)
	}

	discount := out.DiscountAmount
	if discount < 0 {
		discount = 0
	}
	if discount > amount {
		discount = amount
	}
	return amount - discount, discount, nil
}
