package gateway_test

import (
	"encoding/json"
	"testing"

	"github.com/techdoodle/match-slot-booking/internal/gateway"
)

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","event":"payment.captured","payload":{"payment":{"id":"pay_1"}}}`)
	sig := gateway.WebhookSignature(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", body, sig, secret, true},
		{"wrong secret", body, sig, "whsec_other", false},
		{"tampered body", []byte(`{"id":"evt_1","event":"payment.failed"}`), sig, secret, false},
		{"truncated signature", body, sig[:10], secret, false},
		{"empty signature", body, "", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gateway.VerifyWebhookSignature(tt.body, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifyWebhookSignature = %v, want %v", got, tt.want)
			}
		})
	}
}

// A re-serialized body is not byte-identical to what was signed (key
// order, whitespace), so verification must stay bound to raw bytes.
func TestWebhookSignatureRejectsReserializedBody(t *testing.T) {
	secret := "whsec_test"
	raw := []byte(`{"event": "payment.captured",  "id": "evt_1"}`)
	sig := gateway.WebhookSignature(raw, secret)

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	reserialized, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(reserialized) == string(raw) {
		t.Skip("re-serialization happened to be identical")
	}
	if gateway.VerifyWebhookSignature(reserialized, sig, secret) {
		t.Error("signature verified against re-serialized body; must only match raw bytes")
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "key_secret"
	sig := gateway.VerificationSignature("order_1", "pay_1", secret)

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		want      bool
	}{
		{"valid", "order_1", "pay_1", sig, true},
		{"wrong order", "order_2", "pay_1", sig, false},
		{"wrong payment", "order_1", "pay_2", sig, false},
		{"swapped ids", "pay_1", "order_1", sig, false},
		{"empty signature", "order_1", "pay_1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gateway.VerifyPaymentSignature(tt.orderID, tt.paymentID, tt.signature, secret); got != tt.want {
				t.Errorf("VerifyPaymentSignature = %v, want %v", got, tt.want)
			}
		})
	}
}
