package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Gateway webhook event types this engine understands.
const (
	EventPaymentCaptured  = "payment.captured"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
	EventOrderPaid        = "order.paid"
	EventPaymentExpired   = "payment.expired"
	EventRefundProcessed  = "refund.processed"
	EventRefundFailed     = "refund.failed"
)

var (
	// ErrInvalidSignature means the webhook HMAC did not match; the
	// request is rejected outright with no state mutation.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnknownEvent means the event type is not part of the known
	// enumeration.
	ErrUnknownEvent = errors.New("unknown gateway event")

	// ErrVerificationFailed means a client-submitted payment
	// signature did not verify; the booking moves to a failed state
	// and its capacity is released.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// PaymentEntity is the payment object embedded in webhook payloads.
type PaymentEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"` // unix seconds, gateway clock
}

// RefundEntity is the refund object embedded in webhook payloads.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// WebhookEvent is the gateway's webhook envelope. Payload members are
// present depending on the event type.
type WebhookEvent struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"` // unix seconds, gateway clock
	Payload   struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseWebhook decodes and validates a webhook body. The raw bytes
// must already have passed signature verification.
func ParseWebhook(raw []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.ID == "" {
		return WebhookEvent{}, fmt.Errorf("decode webhook: missing event id")
	}
	switch ev.Event {
	case EventPaymentCaptured, EventPaymentFailed, EventPaymentCancelled, EventOrderPaid, EventPaymentExpired:
		if ev.Payload.Payment.Entity.OrderID == "" {
			return WebhookEvent{}, fmt.Errorf("decode webhook %s: missing payment order id", ev.Event)
		}
	case EventRefundProcessed, EventRefundFailed:
		if ev.Payload.Refund.Entity.ID == "" {
			return WebhookEvent{}, fmt.Errorf("decode webhook %s: missing refund id", ev.Event)
		}
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
	}
	return ev, nil
}

// VerificationPayload is the client-submitted proof of payment the
// gateway hands back after checkout.
type VerificationPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}
