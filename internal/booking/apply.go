package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
	"github.com/techdoodle/match-slot-booking/internal/repository"
)

// Applier executes a booking transition together with its capacity
// effect inside one transaction, so booking state and ledger counters
// never diverge. Both the reservation manager and the reconciliation
// engine funnel their status writes through it.
type Applier struct {
	Matches  *repository.MatchRepo
	Bookings *repository.BookingRepo
}

// paymentStatusFor maps a lifecycle event to the booking's payment
// status summary. Cancellation events keep the current value.
func paymentStatusFor(ev Event, current string) string {
	switch ev {
	case EventOrderCreated:
		return "PENDING"
	case EventPaymentCaptured, EventLateCapture:
		return "CAPTURED"
	case EventPaymentFailed:
		return "FAILED"
	case EventPaymentExpired, EventTimeoutExpired:
		return "EXPIRED"
	case EventVerificationFailed:
		return "VERIFICATION_FAILED"
	case EventPaymentCancelled:
		return "CANCELLED"
	}
	return current
}

// ApplyTx transitions the booking through ev, applies the required
// ledger effect and persists the new booking and slot statuses. The
// booking must have been loaded FOR UPDATE in the same transaction.
// Returns ErrInvalidTransition untouched so callers can treat replays
// as no-ops, and ledger.ErrVersionConflict so they can retry the whole
// transaction from a fresh read.
func (a *Applier) ApplyTx(ctx context.Context, tx *sql.Tx, b *model.Booking, ev Event, now time.Time) (Transition, error) {
	tr, err := Next(b.Status, ev)
	if err != nil {
		return Transition{}, err
	}
	st := a.Matches.WithTx(tx)

	switch tr.Effect {
	case EffectConfirmReservation:
		if _, err := ledger.Confirm(ctx, st, b.MatchID, b.ReservationID); err != nil {
			if !errors.Is(err, ledger.ErrLockNotFound) {
				return Transition{}, err
			}
			// The lock expired and was swept before the capture
			// arrived; take the slots back if the match still has room.
			if err := reacquireTx(ctx, st, b.MatchID, b.SlotCount, now); err != nil {
				return Transition{}, err
			}
		}
		if err := a.activateSlotsTx(ctx, tx, b.ID); err != nil {
			return Transition{}, err
		}
	case EffectReleaseReservation:
		if _, err := ledger.Release(ctx, st, b.MatchID, b.ReservationID); err != nil {
			return Transition{}, err
		}
		if err := a.expireSlotsTx(ctx, tx, b.ID); err != nil {
			return Transition{}, err
		}
	case EffectReacquire:
		if err := reacquireTx(ctx, st, b.MatchID, b.SlotCount, now); err != nil {
			return Transition{}, err
		}
		if err := a.activateSlotsTx(ctx, tx, b.ID); err != nil {
			return Transition{}, err
		}
	case EffectReleaseConfirmed:
		// Cancellation flows release confirmed capacity themselves
		// because the released count depends on the slots cancelled.
	}

	b.PaymentStatus = paymentStatusFor(ev, b.PaymentStatus)
	b.Status = tr.Next
	if err := a.Bookings.UpdateStatusTx(ctx, tx, b.ID, b.Status, b.PaymentStatus); err != nil {
		return Transition{}, err
	}
	return tr, nil
}

// reacquireTx books slotCount slots directly, bypassing the lock
// stage, for captures whose reservation lock is already gone. Fails
// with ErrCapacityExceeded when the match has been filled meanwhile.
func reacquireTx(ctx context.Context, st ledger.Store, matchID uint64, slotCount uint32, now time.Time) error {
	snap, err := st.Capacity(ctx, matchID)
	if err != nil {
		return err
	}
	if ledger.Available(snap, now) < int64(slotCount) {
		return fmt.Errorf("reacquire %d slots: %w", slotCount, ledger.ErrCapacityExceeded)
	}
	_, err = st.CommitVersion(ctx, matchID, snap.Match.Version, int32(slotCount))
	return err
}

// activateSlotsTx moves every pending slot of the booking to ACTIVE,
// validating the transition for each.
func (a *Applier) activateSlotsTx(ctx context.Context, tx *sql.Tx, bookingID uint64) error {
	return a.bulkSlotEventTx(ctx, tx, bookingID, SlotEventActivate)
}

// expireSlotsTx moves every pending slot of the booking to EXPIRED.
func (a *Applier) expireSlotsTx(ctx context.Context, tx *sql.Tx, bookingID uint64) error {
	return a.bulkSlotEventTx(ctx, tx, bookingID, SlotEventExpire)
}

func (a *Applier) bulkSlotEventTx(ctx context.Context, tx *sql.Tx, bookingID uint64, ev SlotEvent) error {
	slots, err := a.Bookings.SlotsByBookingTx(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	byNext := make(map[string][]uint32)
	for _, s := range slots {
		next, err := NextSlot(s.Status, ev)
		if err != nil {
			// Slots already past this transition are left alone;
			// replayed events must not rewrite them.
			continue
		}
		byNext[next] = append(byNext[next], s.SlotNumber)
	}
	for next, numbers := range byNext {
		if err := a.Bookings.BulkUpdateSlotStatusTx(ctx, tx, bookingID, numbers, next); err != nil {
			return err
		}
	}
	return nil
}
