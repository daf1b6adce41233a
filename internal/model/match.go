package model

import "time"

// Match owns the capacity being sold: a fixed number of player slots
// plus an overflow buffer. The row is the single point of cross-booking
// coordination, guarded by the Version column: every conditional
// update must include Version in its predicate and bump it on success.
//
// Fields:
//
//	ID             – primary key identifier.
//	PlayerCapacity – nominal number of bookable slots.
//	BufferCapacity – overflow allowed beyond the nominal capacity.
//	BookedSlots    – slots permanently confirmed against this match.
//	Version        – optimistic-lock token, monotonically increasing.
//	StartsAt       – kick-off time; drives refund tier selection.
//	PerSlotPrice   – price per slot in minor currency units.
//	CreatedAt      – creation timestamp.
//	UpdatedAt      – last update timestamp.
type Match struct {
	ID             uint64    // matches.id
	PlayerCapacity uint32    // matches.player_capacity
	BufferCapacity uint32    // matches.buffer_capacity
	BookedSlots    uint32    // matches.booked_slots
	Version        uint64    // matches.version
	StartsAt       time.Time // matches.starts_at
	PerSlotPrice   int64     // matches.per_slot_price (minor units)
	CreatedAt      time.Time // matches.created_at
	UpdatedAt      time.Time // matches.updated_at
}

// SlotLock is one in-flight reservation holding capacity that has not
// been confirmed yet. Locks live in their own table keyed by the
// reservation id; an expired lock no longer counts against capacity
// and is removed lazily by the next reserve or by the sweeper.
type SlotLock struct {
	ReservationID string    // match_slot_locks.reservation_id
	MatchID       uint64    // match_slot_locks.match_id
	SlotCount     uint32    // match_slot_locks.slot_count
	ExpiresAt     time.Time // match_slot_locks.expires_at
	CreatedAt     time.Time // match_slot_locks.created_at
}

// Expired reports whether the lock's hold on capacity has lapsed at
// the given instant. Comparisons are performed in UTC.
func (l SlotLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
