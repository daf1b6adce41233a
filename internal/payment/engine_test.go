package payment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/booking"
	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
)

func TestCaptureEventPrecedence(t *testing.T) {
	failedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	failure := &model.PaymentAttempt{Outcome: "FAILED", GatewayCreatedAt: failedAt}

	cases := []struct {
		name        string
		status      string
		lastFailure *model.PaymentAttempt
		at          time.Time
		wantEvent   booking.Event
		wantOK      bool
	}{
		{
			name:      "capture from payment pending",
			status:    booking.StatusPaymentPending,
			at:        failedAt,
			wantEvent: booking.EventPaymentCaptured,
			wantOK:    true,
		},
		{
			name:      "capture from initiated, order ack lost",
			status:    booking.StatusInitiated,
			at:        failedAt,
			wantEvent: booking.EventPaymentCaptured,
			wantOK:    true,
		},
		{
			name:   "replayed capture on confirmed is a no-op",
			status: booking.StatusConfirmed,
			at:     failedAt.Add(time.Minute),
			wantOK: false,
		},
		{
			name:   "late failure after confirmed never downgrades",
			status: booking.StatusConfirmed,
			at:     failedAt.Add(-time.Minute),
			wantOK: false,
		},
		{
			name:        "newer success supersedes recorded failure",
			status:      booking.StatusPaymentFailed,
			lastFailure: failure,
			at:          failedAt.Add(time.Second),
			wantEvent:   booking.EventLateCapture,
			wantOK:      true,
		},
		{
			name:        "success at the failure's own timestamp stays failed",
			status:      booking.StatusPaymentFailed,
			lastFailure: failure,
			at:          failedAt,
			wantOK:      false,
		},
		{
			name:        "older success than recorded failure stays failed",
			status:      booking.StatusPaymentFailed,
			lastFailure: failure,
			at:          failedAt.Add(-time.Hour),
			wantOK:      false,
		},
		{
			name:      "success after expiry with no failure row recorded",
			status:    booking.StatusPaymentExpired,
			at:        failedAt,
			wantEvent: booking.EventLateCapture,
			wantOK:    true,
		},
		{
			name:        "late capture after cancellation",
			status:      booking.StatusPaymentCancelled,
			lastFailure: failure,
			at:          failedAt.Add(time.Minute),
			wantEvent:   booking.EventLateCapture,
			wantOK:      true,
		},
		{
			name:   "capture on a cancelled booking is rejected",
			status: booking.StatusCancelled,
			at:     failedAt,
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := model.Booking{Status: tc.status}
			ev, ok := captureEvent(b, tc.lastFailure, tc.at)
			if ok != tc.wantOK {
				t.Fatalf("captureEvent ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && ev != tc.wantEvent {
				t.Fatalf("captureEvent = %q, want %q", ev, tc.wantEvent)
			}
		})
	}
}

func TestParseWebhook(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr error
		check   func(t *testing.T, ev WebhookEvent)
	}{
		{
			name: "payment captured",
			body: `{"id":"evt_1","event":"payment.captured","created_at":1756728000,
				"payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_7","status":"captured","amount":60000}}}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				if ev.ID != "evt_1" || ev.Payload.Payment.Entity.OrderID != "order_7" {
					t.Fatalf("unexpected event %+v", ev)
				}
				if ev.CreatedAt != 1756728000 {
					t.Fatalf("created_at = %d", ev.CreatedAt)
				}
			},
		},
		{
			name: "refund processed",
			body: `{"id":"evt_2","event":"refund.processed",
				"payload":{"refund":{"entity":{"id":"rfnd_3","payment_id":"pay_9","amount":30000}}}}`,
			check: func(t *testing.T, ev WebhookEvent) {
				if ev.Payload.Refund.Entity.ID != "rfnd_3" {
					t.Fatalf("unexpected refund entity %+v", ev.Payload.Refund.Entity)
				}
			},
		},
		{
			name:    "unknown event type",
			body:    `{"id":"evt_3","event":"subscription.charged","payload":{}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name: "missing event id",
			body: `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`,
		},
		{
			name: "payment event without order id",
			body: `{"id":"evt_4","event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1"}}}}`,
		},
		{
			name: "refund event without refund id",
			body: `{"id":"evt_5","event":"refund.failed","payload":{"refund":{"entity":{"payment_id":"pay_1"}}}}`,
		},
		{
			name: "malformed json",
			body: `{"id":"evt_6",`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseWebhook([]byte(tc.body))
			wantFail := tc.wantErr != nil || tc.check == nil
			if wantFail {
				if err == nil {
					t.Fatalf("ParseWebhook succeeded, want error")
				}
				if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParseWebhook error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

// A capture that finds its capacity re-sold can never succeed, so it
// must be acknowledged and dropped instead of returned to the gateway
// for endless redelivery. Anything else still propagates.
func TestCapacityDrop(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"reacquire exhausted", fmt.Errorf("reacquire 3 slots: %w", ledger.ErrCapacityExceeded), true},
		{"bare capacity error", ledger.ErrCapacityExceeded, true},
		{"version conflict propagates", ledger.ErrVersionConflict, false},
		{"replay no-op propagates", booking.ErrInvalidTransition, false},
		{"storage error propagates", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capacityDrop(tt.err); got != tt.want {
				t.Errorf("capacityDrop(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// Two sequential partial cancellations carry their own refund rows.
// The first settlement must not report the booking fully refunded
// while the second row is still pending at the gateway.
func TestRefundSummary(t *testing.T) {
	tests := []struct {
		name          string
		bookingStatus string
		pending       int64
		want          string
	}{
		{"partial cancellation settles", booking.StatusPartiallyCancelled, 0, model.RefundStatusPartial},
		{"first of two refunds settles", booking.StatusCancelled, 1, model.RefundStatusPartial},
		{"last refund settles", booking.StatusCancelled, 0, model.RefundStatusFull},
		{"partial with another pending", booking.StatusPartiallyCancelled, 1, model.RefundStatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := refundSummary(tt.bookingStatus, tt.pending); got != tt.want {
				t.Errorf("refundSummary(%s, %d) = %s, want %s",
					tt.bookingStatus, tt.pending, got, tt.want)
			}
		})
	}
}
