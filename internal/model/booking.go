package model

import "time"

// Booking aggregates one or more slots purchased for a match under a
// single payment. A booking is created in BookingInitiated and is only
// ever removed by retention policy; terminal states are kept for audit.
//
// Fields:
//
//	ID             – primary key identifier.
//	Reference      – externally shown booking code.
//	MatchID        – match whose capacity the booking occupies.
//	UserID         – owning user; nil for guest bookings.
//	ReservationID  – capacity-ledger lock id while unconfirmed.
//	SlotCount      – number of child slots.
//	Amount         – total payable in minor currency units.
//	PromoCode      – applied promo code, if any.
//	DiscountAmount – discount applied by the promo collaborator.
//	OriginalAmount – amount before discount.
//	Status         – booking lifecycle status.
//	PaymentStatus  – summary of the latest payment outcome.
//	RefundStatus   – summary refund state (NONE, PENDING, PARTIAL, FULL).
//	Metadata       – free-form key/value bag persisted as JSON.
//	CreatedAt      – creation timestamp.
//	UpdatedAt      – last update timestamp.
type Booking struct {
	ID             uint64            // bookings.id
	Reference      string            // bookings.reference
	MatchID        uint64            // bookings.match_id
	UserID         *uint64           // bookings.user_id (nullable)
	ReservationID  string            // bookings.reservation_id
	SlotCount      uint32            // bookings.slot_count
	Amount         int64             // bookings.amount (minor units)
	PromoCode      *string           // bookings.promo_code (nullable)
	DiscountAmount int64             // bookings.discount_amount
	OriginalAmount int64             // bookings.original_amount
	Status         string            // bookings.status
	PaymentStatus  string            // bookings.payment_status
	RefundStatus   string            // bookings.refund_status
	Metadata       map[string]string // bookings.metadata (JSON)
	CreatedAt      time.Time         // bookings.created_at
	UpdatedAt      time.Time         // bookings.updated_at
}

// BookingSlot is the unit of capacity accounting: one player's place
// in the match. Slot numbers are unique within a booking (enforced by
// a uniqueness constraint on (booking_id, slot_number)).
//
// Fields:
//
//	ID           – primary key identifier.
//	BookingID    – owning booking.
//	SlotNumber   – position within the match, unique per booking.
//	PlayerName   – optional player identity supplied at booking time.
//	PlayerPhone  – optional contact number.
//	OccupantID   – optional user occupying the slot.
//	Status       – slot lifecycle status.
//	RefundStatus – per-slot refund state.
//	RefundAmount – refund granted for this slot in minor units.
//	CancelledAt  – when the slot was cancelled, if ever.
//	RefundedAt   – when the refund completed, if ever.
//	Metadata     – free-form key/value bag persisted as JSON.
//	CreatedAt    – creation timestamp.
//	UpdatedAt    – last update timestamp.
type BookingSlot struct {
	ID           uint64            // booking_slots.id
	BookingID    uint64            // booking_slots.booking_id
	SlotNumber   uint32            // booking_slots.slot_number
	PlayerName   *string           // booking_slots.player_name (nullable)
	PlayerPhone  *string           // booking_slots.player_phone (nullable)
	OccupantID   *uint64           // booking_slots.occupant_id (nullable)
	Status       string            // booking_slots.status
	RefundStatus string            // booking_slots.refund_status
	RefundAmount int64             // booking_slots.refund_amount
	RefundID     *uint64           // booking_slots.refund_id (nullable)
	CancelledAt  *time.Time        // booking_slots.cancelled_at (nullable)
	RefundedAt   *time.Time        // booking_slots.refunded_at (nullable)
	Metadata     map[string]string // booking_slots.metadata (JSON)
	CreatedAt    time.Time         // booking_slots.created_at
	UpdatedAt    time.Time         // booking_slots.updated_at
}
