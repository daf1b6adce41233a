// Package booking owns the booking and slot lifecycles and the slot
// reservation manager that drives capacity effects for them.
package booking

import (
	"errors"
	"fmt"
)

// Booking lifecycle statuses.
const (
	StatusInitiated           = "INITIATED"
	StatusPaymentPending      = "PAYMENT_PENDING"
	StatusPaymentFailed       = "PAYMENT_FAILED"
	StatusPaymentExpired      = "PAYMENT_EXPIRED"
	StatusPaymentFailedVerify = "PAYMENT_FAILED_VERIFIED"
	StatusPaymentCancelled    = "PAYMENT_CANCELLED"
	StatusConfirmed           = "CONFIRMED"
	StatusCancelled           = "CANCELLED"
	StatusPartiallyCancelled  = "PARTIALLY_CANCELLED"
	StatusExpired             = "EXPIRED"
)

// Slot lifecycle statuses. A slot counts toward confirmed capacity
// only while ACTIVE; every other terminal state frees capacity.
const (
	SlotPendingPayment      = "PENDING_PAYMENT"
	SlotActive              = "ACTIVE"
	SlotCancelled           = "CANCELLED"
	SlotCancelledRefundWait = "CANCELLED_REFUND_PENDING"
	SlotCancelledRefunded   = "CANCELLED_REFUNDED"
	SlotExpired             = "EXPIRED"
)

// Events that drive the booking state machine.
type Event string

const (
	EventOrderCreated       Event = "ORDER_CREATED"
	EventPaymentCaptured    Event = "PAYMENT_CAPTURED"
	EventPaymentFailed      Event = "PAYMENT_FAILED"
	EventPaymentExpired     Event = "PAYMENT_EXPIRED"
	EventVerificationFailed Event = "VERIFICATION_FAILED"
	EventPaymentCancelled   Event = "PAYMENT_CANCELLED"
	EventTimeoutExpired     Event = "TIMEOUT_EXPIRED"
	EventCancelAll          Event = "CANCEL_ALL"
	EventCancelPart         Event = "CANCEL_PART"
	// EventLateCapture supersedes a recorded failure with a
	// strictly-newer gateway success. The reconciliation engine is
	// the only caller and is responsible for the timestamp check.
	EventLateCapture Event = "LATE_CAPTURE"
)

// Events that drive the slot state machine.
type SlotEvent string

const (
	SlotEventActivate      SlotEvent = "ACTIVATE"
	SlotEventExpire        SlotEvent = "EXPIRE"
	SlotEventCancel        SlotEvent = "CANCEL"
	SlotEventRefundPending SlotEvent = "REFUND_PENDING"
	SlotEventRefunded      SlotEvent = "REFUNDED"
)

// CapacityEffect is the ledger side effect a transition requires. The
// effect must be applied in the same transaction as the status write;
// state and capacity never diverge.
type CapacityEffect int

const (
	EffectNone CapacityEffect = iota
	// EffectConfirmReservation moves the booking's lock into
	// booked_slots.
	EffectConfirmReservation
	// EffectReleaseReservation drops the still-unconfirmed lock.
	EffectReleaseReservation
	// EffectReleaseConfirmed decrements booked_slots for slots that
	// had already been confirmed.
	EffectReleaseConfirmed
	// EffectReacquire re-reserves and confirms capacity for a late
	// success applied after a failure already released it.
	EffectReacquire
)

// ErrInvalidTransition is returned when an event is not legal in the
// current state. Callers treat it as a benign no-op for replayed or
// out-of-order events; it never silently overwrites state.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition is the result of applying an event to a booking status.
type Transition struct {
	Next   string
	Effect CapacityEffect
}

// pending reports whether the status still holds an unconfirmed
// capacity lock.
func pending(status string) bool {
	return status == StatusInitiated || status == StatusPaymentPending
}

// failed reports whether the status is a terminal payment failure that
// a strictly-newer gateway success may supersede.
func failed(status string) bool {
	switch status {
	case StatusPaymentFailed, StatusPaymentExpired, StatusPaymentFailedVerify, StatusPaymentCancelled, StatusExpired:
		return true
	}
	return false
}

// Next is the booking transition function: pure, total over its legal
// inputs, and rejecting everything else with ErrInvalidTransition so
// duplicate and replayed events are safe to apply.
func Next(current string, ev Event) (Transition, error) {
	switch ev {
	case EventOrderCreated:
		if current == StatusInitiated {
			return Transition{Next: StatusPaymentPending}, nil
		}
	case EventPaymentCaptured:
		// Capture may arrive before the order ack was recorded.
		if pending(current) {
			return Transition{Next: StatusConfirmed, Effect: EffectConfirmReservation}, nil
		}
	case EventPaymentFailed:
		if pending(current) {
			return Transition{Next: StatusPaymentFailed, Effect: EffectReleaseReservation}, nil
		}
	case EventPaymentExpired:
		if pending(current) {
			return Transition{Next: StatusPaymentExpired, Effect: EffectReleaseReservation}, nil
		}
	case EventVerificationFailed:
		if pending(current) {
			return Transition{Next: StatusPaymentFailedVerify, Effect: EffectReleaseReservation}, nil
		}
	case EventPaymentCancelled:
		if pending(current) {
			return Transition{Next: StatusPaymentCancelled, Effect: EffectReleaseReservation}, nil
		}
	case EventTimeoutExpired:
		if pending(current) {
			return Transition{Next: StatusExpired, Effect: EffectReleaseReservation}, nil
		}
	case EventCancelAll:
		if current == StatusConfirmed || current == StatusPartiallyCancelled {
			return Transition{Next: StatusCancelled, Effect: EffectReleaseConfirmed}, nil
		}
	case EventCancelPart:
		if current == StatusConfirmed || current == StatusPartiallyCancelled {
			return Transition{Next: StatusPartiallyCancelled, Effect: EffectReleaseConfirmed}, nil
		}
	case EventLateCapture:
		if failed(current) {
			return Transition{Next: StatusConfirmed, Effect: EffectReacquire}, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
}

// NextSlot is the slot transition function.
func NextSlot(current string, ev SlotEvent) (string, error) {
	switch ev {
	case SlotEventActivate:
		// EXPIRED slots come back when a late capture reacquires the
		// booking's capacity; they must end up ACTIVE again or the
		// confirmed booking would hold slots nobody can cancel.
		if current == SlotPendingPayment || current == SlotExpired {
			return SlotActive, nil
		}
	case SlotEventExpire:
		if current == SlotPendingPayment {
			return SlotExpired, nil
		}
	case SlotEventCancel:
		if current == SlotActive {
			return SlotCancelled, nil
		}
	case SlotEventRefundPending:
		if current == SlotCancelled {
			return SlotCancelledRefundWait, nil
		}
	case SlotEventRefunded:
		if current == SlotCancelledRefundWait {
			return SlotCancelledRefunded, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
}
