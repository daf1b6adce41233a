// Package ledger implements capacity accounting for a match: a fixed
// number of player slots plus a buffer, consumed by confirmed bookings
// and by TTL-bound reservation locks that have not been confirmed yet.
//
// Every mutation is conditioned on the match row's version being
// unchanged since it was read. The primitives here are single-attempt:
// a concurrent writer surfaces ErrVersionConflict and the caller must
// retry the whole decision from a fresh read in a new transaction.
// The bounded retry loop lives in the reservation manager so that each
// attempt re-reads committed state.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/model"
)

var (
	// ErrCapacityExceeded means the match cannot hold the requested
	// slots once non-expired locks are counted. User-facing and
	// retryable by picking another match or time.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrVersionConflict means a concurrent writer changed the match
	// row between read and write. The attempt must be retried from a
	// fresh read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrLockNotFound means no reservation lock exists for the given
	// id, typically because it expired and was swept.
	ErrLockNotFound = errors.New("reservation lock not found")
)

// Store is the persistence contract the ledger operates on. All calls
// belonging to one ledger operation must execute within one storage
// transaction; CommitVersion is the conditional write that makes the
// whole transaction take effect only if the version is unchanged.
type Store interface {
	// Capacity loads the match row and all of its lock entries,
	// including expired ones.
	Capacity(ctx context.Context, matchID uint64) (Snapshot, error)
	// InsertLock records a new reservation lock.
	InsertLock(ctx context.Context, lock model.SlotLock) error
	// DeleteLock removes a lock by reservation id and returns it.
	// Returns ErrLockNotFound when no such lock exists.
	DeleteLock(ctx context.Context, matchID uint64, reservationID string) (model.SlotLock, error)
	// DeleteExpiredLocks removes every lock whose expiry is at or
	// before cutoff and reports how many were removed.
	DeleteExpiredLocks(ctx context.Context, matchID uint64, cutoff time.Time) (int, error)
	// CommitVersion applies bookedDelta to booked_slots and bumps the
	// version, conditioned on the row still being at fromVersion. It
	// returns the new version, or ErrVersionConflict when the
	// condition failed (in which case the enclosing transaction must
	// be rolled back).
	CommitVersion(ctx context.Context, matchID uint64, fromVersion uint64, bookedDelta int32) (uint64, error)
}

// Snapshot is one consistent read of a match's capacity state.
type Snapshot struct {
	Match model.Match
	Locks []model.SlotLock
}

// LockedSlots sums the slot counts of locks that have not expired at
// the given instant.
func LockedSlots(locks []model.SlotLock, now time.Time) uint32 {
	var n uint32
	for _, l := range locks {
		if !l.Expired(now) {
			n += l.SlotCount
		}
	}
	return n
}

// Available returns how many slots can still be reserved at the given
// instant: player capacity plus buffer, minus booked slots and
// non-expired locks. May be negative if a buffer was shrunk after
// bookings were taken.
func Available(s Snapshot, now time.Time) int64 {
	total := int64(s.Match.PlayerCapacity) + int64(s.Match.BufferCapacity)
	return total - int64(s.Match.BookedSlots) - int64(LockedSlots(s.Locks, now))
}

// Grant is the result of a successful Reserve.
type Grant struct {
	ReservationID string
	SlotCount     uint32
	ExpiresAt     time.Time
	NewVersion    uint64
}

// Reserve attempts to lock slotCount slots under reservationID for ttl.
// Expired locks are swept as part of the same attempt, so abandoned
// reservations are self-healing without a dedicated background actor.
// Exact fill is valid: the check allows booked+locked+requested to
// equal capacity+buffer. Returns ErrCapacityExceeded when the match is
// full and ErrVersionConflict when a concurrent writer won the race.
func Reserve(ctx context.Context, st Store, matchID uint64, slotCount uint32, reservationID string, ttl time.Duration, now time.Time) (Grant, error) {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return Grant{}, err
	}
	if _, err := st.DeleteExpiredLocks(ctx, matchID, now); err != nil {
		return Grant{}, err
	}
	if Available(snap, now) < int64(slotCount) {
		return Grant{}, ErrCapacityExceeded
	}
	lock := model.SlotLock{
		ReservationID: reservationID,
		MatchID:       matchID,
		SlotCount:     slotCount,
		ExpiresAt:     now.Add(ttl),
	}
	if err := st.InsertLock(ctx, lock); err != nil {
		return Grant{}, err
	}
	v, err := st.CommitVersion(ctx, matchID, snap.Match.Version, 0)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		ReservationID: reservationID,
		SlotCount:     slotCount,
		ExpiresAt:     lock.ExpiresAt,
		NewVersion:    v,
	}, nil
}

// Confirm moves a reservation's slots from locked into booked_slots
// and removes the lock entry. Returns ErrLockNotFound when the lock
// has already expired and been swept.
func Confirm(ctx context.Context, st Store, matchID uint64, reservationID string) (uint64, error) {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return 0, err
	}
	lock, err := st.DeleteLock(ctx, matchID, reservationID)
	if err != nil {
		return 0, err
	}
	return st.CommitVersion(ctx, matchID, snap.Match.Version, int32(lock.SlotCount))
}

// Release removes a still-locked reservation without touching
// booked_slots. A missing lock is treated as already released.
func Release(ctx context.Context, st Store, matchID uint64, reservationID string) (uint64, error) {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return 0, err
	}
	if _, err := st.DeleteLock(ctx, matchID, reservationID); err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return snap.Match.Version, nil
		}
		return 0, err
	}
	return st.CommitVersion(ctx, matchID, snap.Match.Version, 0)
}

// ReleaseConfirmed returns slotCount previously confirmed slots to the
// pool by decrementing booked_slots. Used on cancellation of ACTIVE
// slots, as opposed to Release which drops an unconfirmed lock.
func ReleaseConfirmed(ctx context.Context, st Store, matchID uint64, slotCount uint32) (uint64, error) {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return 0, err
	}
	return st.CommitVersion(ctx, matchID, snap.Match.Version, -int32(slotCount))
}

// SweepExpired drops every expired lock for the match. It only bumps
// the version when something was actually removed, so an idle sweep is
// a pure read. Returns the number of locks removed.
func SweepExpired(ctx context.Context, st Store, matchID uint64, now time.Time) (int, error) {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return 0, err
	}
	n, err := st.DeleteExpiredLocks(ctx, matchID, now)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := st.CommitVersion(ctx, matchID, snap.Match.Version, 0); err != nil {
		return 0, err
	}
	return n, nil
}
