package booking_test

import (
	"errors"
	"testing"

	"github.com/techdoodle/match-slot-booking/internal/booking"
)

func TestBookingTransitions(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		event      booking.Event
		wantNext   string
		wantEffect booking.CapacityEffect
		wantErr    bool
	}{
		{"order ack", booking.StatusInitiated, booking.EventOrderCreated, booking.StatusPaymentPending, booking.EffectNone, false},
		{"capture from pending", booking.StatusPaymentPending, booking.EventPaymentCaptured, booking.StatusConfirmed, booking.EffectConfirmReservation, false},
		{"capture before order ack", booking.StatusInitiated, booking.EventPaymentCaptured, booking.StatusConfirmed, booking.EffectConfirmReservation, false},
		{"failure releases lock", booking.StatusPaymentPending, booking.EventPaymentFailed, booking.StatusPaymentFailed, booking.EffectReleaseReservation, false},
		{"gateway expiry", booking.StatusPaymentPending, booking.EventPaymentExpired, booking.StatusPaymentExpired, booking.EffectReleaseReservation, false},
		{"verification mismatch", booking.StatusPaymentPending, booking.EventVerificationFailed, booking.StatusPaymentFailedVerify, booking.EffectReleaseReservation, false},
		{"user abandoned", booking.StatusPaymentPending, booking.EventPaymentCancelled, booking.StatusPaymentCancelled, booking.EffectReleaseReservation, false},
		{"timeout sweep from initiated", booking.StatusInitiated, booking.EventTimeoutExpired, booking.StatusExpired, booking.EffectReleaseReservation, false},
		{"full cancel", booking.StatusConfirmed, booking.EventCancelAll, booking.StatusCancelled, booking.EffectReleaseConfirmed, false},
		{"partial cancel", booking.StatusConfirmed, booking.EventCancelPart, booking.StatusPartiallyCancelled, booking.EffectReleaseConfirmed, false},
		{"second partial cancel", booking.StatusPartiallyCancelled, booking.EventCancelPart, booking.StatusPartiallyCancelled, booking.EffectReleaseConfirmed, false},
		{"cancel remainder", booking.StatusPartiallyCancelled, booking.EventCancelAll, booking.StatusCancelled, booking.EffectReleaseConfirmed, false},
		{"late capture supersedes failure", booking.StatusPaymentFailed, booking.EventLateCapture, booking.StatusConfirmed, booking.EffectReacquire, false},
		{"late capture supersedes expiry", booking.StatusPaymentExpired, booking.EventLateCapture, booking.StatusConfirmed, booking.EffectReacquire, false},

		// Sticky and replay protection.
		{"failure after confirm rejected", booking.StatusConfirmed, booking.EventPaymentFailed, "", 0, true},
		{"duplicate capture rejected", booking.StatusConfirmed, booking.EventPaymentCaptured, "", 0, true},
		{"duplicate failure rejected", booking.StatusPaymentFailed, booking.EventPaymentFailed, "", 0, true},
		{"timeout after confirm rejected", booking.StatusConfirmed, booking.EventTimeoutExpired, "", 0, true},
		{"cancel of unpaid booking rejected", booking.StatusPaymentPending, booking.EventCancelAll, "", 0, true},
		{"cancel of cancelled booking rejected", booking.StatusCancelled, booking.EventCancelAll, "", 0, true},
		{"late capture on confirmed rejected", booking.StatusConfirmed, booking.EventLateCapture, "", 0, true},
		{"order ack replay rejected", booking.StatusPaymentPending, booking.EventOrderCreated, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := booking.Next(tt.current, tt.event)
			if tt.wantErr {
				if !errors.Is(err, booking.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Next != tt.wantNext {
				t.Errorf("next = %s, want %s", got.Next, tt.wantNext)
			}
			if got.Effect != tt.wantEffect {
				t.Errorf("effect = %d, want %d", got.Effect, tt.wantEffect)
			}
		})
	}
}

func TestSlotTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current string
		event   booking.SlotEvent
		want    string
		wantErr bool
	}{
		{"activate on capture", booking.SlotPendingPayment, booking.SlotEventActivate, booking.SlotActive, false},
		{"expire unpaid", booking.SlotPendingPayment, booking.SlotEventExpire, booking.SlotExpired, false},
		{"cancel active", booking.SlotActive, booking.SlotEventCancel, booking.SlotCancelled, false},
		{"refund pending", booking.SlotCancelled, booking.SlotEventRefundPending, booking.SlotCancelledRefundWait, false},
		{"refund completed", booking.SlotCancelledRefundWait, booking.SlotEventRefunded, booking.SlotCancelledRefunded, false},
		{"reactivate expired", booking.SlotExpired, booking.SlotEventActivate, booking.SlotActive, false},

		{"cancel already refunded rejected", booking.SlotCancelledRefunded, booking.SlotEventCancel, "", true},
		{"cancel pending rejected", booking.SlotPendingPayment, booking.SlotEventCancel, "", true},
		{"double activate rejected", booking.SlotActive, booking.SlotEventActivate, "", true},
		{"refunded without pending rejected", booking.SlotCancelled, booking.SlotEventRefunded, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := booking.NextSlot(tt.current, tt.event)
			if tt.wantErr {
				if !errors.Is(err, booking.ErrInvalidTransition) {
					t.Fatalf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("next = %s, want %s", got, tt.want)
			}
		})
	}
}

// A failure expires the booking's slots; a strictly newer capture then
// reacquires capacity and confirms the booking. The slots must follow
// the booking back to ACTIVE so they stay cancellable afterwards.
func TestSlotsRecoverAfterLateCapture(t *testing.T) {
	slot, err := booking.NextSlot(booking.SlotPendingPayment, booking.SlotEventExpire)
	if err != nil {
		t.Fatalf("expire pending slot: %v", err)
	}
	if slot != booking.SlotExpired {
		t.Fatalf("slot = %s, want %s", slot, booking.SlotExpired)
	}

	tr, err := booking.Next(booking.StatusPaymentFailed, booking.EventLateCapture)
	if err != nil {
		t.Fatalf("late capture on failed booking: %v", err)
	}
	if tr.Next != booking.StatusConfirmed || tr.Effect != booking.EffectReacquire {
		t.Fatalf("transition = %s/%d, want %s with reacquire",
			tr.Next, tr.Effect, booking.StatusConfirmed)
	}

	slot, err = booking.NextSlot(slot, booking.SlotEventActivate)
	if err != nil {
		t.Fatalf("reactivate expired slot: %v", err)
	}
	if slot != booking.SlotActive {
		t.Fatalf("slot = %s, want %s", slot, booking.SlotActive)
	}

	if _, err := booking.NextSlot(slot, booking.SlotEventCancel); err != nil {
		t.Fatalf("cancel reactivated slot: %v", err)
	}
}
