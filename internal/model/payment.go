package model

import "time"

// PaymentOrder records the gateway-side order created for a booking.
// The gateway order id is the join key used by reconciliation to map
// inbound events back to a booking.
type PaymentOrder struct {
	ID             uint64    // payment_orders.id
	GatewayOrderID string    // payment_orders.gateway_order_id (unique)
	BookingID      uint64    // payment_orders.booking_id
	Amount         int64     // payment_orders.amount (minor units)
	Currency       string    // payment_orders.currency
	Status         string    // payment_orders.status (CREATED, PAID, FAILED, EXPIRED)
	CreatedAt      time.Time // payment_orders.created_at
	UpdatedAt      time.Time // payment_orders.updated_at
}

// PaymentAttempt is one gateway payment event applied to a booking.
// Every attempt keeps the raw gateway payload and the gateway's own
// event timestamp; the timestamp is what decides whether a late
// success may supersede an earlier recorded failure.
type PaymentAttempt struct {
	ID               uint64    // payment_attempts.id
	GatewayPaymentID string    // payment_attempts.gateway_payment_id
	GatewayOrderID   string    // payment_attempts.gateway_order_id
	BookingID        uint64    // payment_attempts.booking_id
	Outcome          string    // payment_attempts.outcome (CAPTURED, FAILED, EXPIRED, CANCELLED)
	RawPayload       []byte    // payment_attempts.raw_payload (gateway response body)
	GatewayCreatedAt time.Time // payment_attempts.gateway_created_at
	CreatedAt        time.Time // payment_attempts.created_at
}

// Refund tracks a gateway-side refund independently of the booking's
// summary RefundStatus field.
type Refund struct {
	ID              uint64    // refunds.id
	GatewayRefundID *string   // refunds.gateway_refund_id (nullable until acked)
	BookingID       uint64    // refunds.booking_id
	Amount          int64     // refunds.amount (minor units)
	Status          string    // refunds.status (PENDING, PROCESSED, FAILED)
	IdempotencyKey  string    // refunds.idempotency_key
	CreatedAt       time.Time // refunds.created_at
	UpdatedAt       time.Time // refunds.updated_at
}

// Refund row statuses.
const (
	RefundPending   = "PENDING"
	RefundProcessed = "PROCESSED"
	RefundFailed    = "FAILED"
)

// Booking-level refund summary values.
const (
	RefundStatusNone    = "NONE"
	RefundStatusPending = "PENDING"
	RefundStatusPartial = "PARTIAL"
	RefundStatusFull    = "FULL"
)
