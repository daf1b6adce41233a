package promo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestApplyDiscount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/promos/apply" {
			http.NotFound(w, r)
			return
		}
		var req applyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := applyResponse{}
		switch req.PromoCode {
		case "TENOFF":
			resp.Valid = true
			resp.DiscountAmount = req.Amount / 10
		case "HUGE":
			resp.Valid = true
			resp.DiscountAmount = req.Amount * 2 // misbehaving service
		default:
			resp.Reason = "unknown code"
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	t.Run("valid code", func(t *testing.T) {
		discounted, discount, err := c.ApplyDiscount(context.Background(), 60000, "TENOFF", 1, nil)
		if err != nil {
			t.Fatalf("ApplyDiscount: %v", err)
		}
		if discounted != 54000 || discount != 6000 {
			t.Fatalf("got discounted=%d discount=%d", discounted, discount)
		}
	})

	t.Run("rejected code", func(t *testing.T) {
		if _, _, err := c.ApplyDiscount(context.Background(), 60000, "NOPE", 1, nil); err == nil {
			t.Fatal("want error for rejected code")
		}
	})

	t.Run("discount clamped to amount", func(t *testing.T) {
		discounted, discount, err := c.ApplyDiscount(context.Background(), 60000, "HUGE", 1, nil)
		if err != nil {
			t.Fatalf("ApplyDiscount: %v", err)
		}
		if discounted != 0 || discount != 60000 {
			t.Fatalf("got discounted=%d discount=%d", discounted, discount)
		}
	})
}

func TestNewClientDisabledWithoutURL(t *testing.T) {
	if c := NewClient(""); c != nil {
		t.Fatal("empty base URL should disable the client")
	}
}
