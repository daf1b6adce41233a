// Package queue defines message payloads exchanged over the message broker.
package queue

// BookingConfirmedEvent is published when a payment capture confirms a
// booking. It contains enough information for downstream consumers to
// log, notify, or trigger analytics without querying the primary
// database.
type BookingConfirmedEvent struct {
	BookingID     uint64  `json:"booking_id"`
	Reference     string  `json:"reference"`
	MatchID       uint64  `json:"match_id"`
	UserID        *uint64 `json:"user_id,omitempty"`
	SlotCount     uint32  `json:"slot_count"`
	Amount        int64   `json:"amount"`
	MatchStartsAt string  `json:"match_starts_at"`
	ConfirmedAt   string  `json:"confirmed_at"`
}

// RefundCompletedEvent is published when the gateway acknowledges that
// a refund has been processed.
type RefundCompletedEvent struct {
	BookingID    uint64  `json:"booking_id"`
	Reference    string  `json:"reference"`
	RefundID     uint64  `json:"refund_id"`
	GatewayID    string  `json:"gateway_refund_id,omitempty"`
	Amount       int64   `json:"amount"`
	RefundStatus string  `json:"refund_status"`
	UserID       *uint64 `json:"user_id,omitempty"`
	CompletedAt  string  `json:"completed_at"`
}
