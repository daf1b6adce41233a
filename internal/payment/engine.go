// Package payment reconciles asynchronous gateway events (order
// creation acks, client verification calls and webhooks) against
// local booking state. Events may arrive duplicated, delayed or out
// of order; the engine applies each one idempotently inside a single
// transaction together with the capacity effect it requires.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/booking"
	"github.com/techdoodle/match-slot-booking/internal/gateway"
	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
	"github.com/techdoodle/match-slot-booking/internal/repository"
	"github.com/techdoodle/match-slot-booking/internal/txn"
)

// Notifier delivers fire-and-forget notifications. Implementations
// must never block reconciliation on delivery.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b model.Booking)
	RefundCompleted(ctx context.Context, b model.Booking, rf model.Refund)
}

// PaymentFetcher is the slice of the gateway client used to read back
// a payment after client-side verification, so the capture is recorded
// with the gateway's own timestamp rather than the local clock.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
}

// Engine is the single synchronous reconciliation entry point per
// gateway event, invoked by whatever transport receives the event.
type Engine struct {
	co       *txn.Coordinator
	matches  *repository.MatchRepo
	bookings *repository.BookingRepo
	payments *repository.PaymentRepo
	applier  *booking.Applier
	dedup    *Dedup
	notifier Notifier
	fetcher  PaymentFetcher

	webhookSecret string
	verifySecret  string
	maxAttempts   int
	retryBackoff  time.Duration
}

// NewEngine constructs the reconciliation engine. dedup, notifier and
// fetcher may be nil; the engine then relies on state-machine no-ops
// for replay safety, drops notifications, and timestamps verified
// captures with the local clock.
func NewEngine(co *txn.Coordinator, matches *repository.MatchRepo, bookings *repository.BookingRepo,
	payments *repository.PaymentRepo, dedup *Dedup, notifier Notifier, fetcher PaymentFetcher,
	webhookSecret, verifySecret string) *Engine {
	if co == nil || matches == nil || bookings == nil || payments == nil {
		panic("nil dependency passed to NewEngine")
	}
	return &Engine{
		co:            co,
		matches:       matches,
		bookings:      bookings,
		payments:      payments,
		applier:       &booking.Applier{Matches: matches, Bookings: bookings},
		dedup:         dedup,
		notifier:      notifier,
		fetcher:       fetcher,
		webhookSecret: webhookSecret,
		verifySecret:  verifySecret,
		maxAttempts:   5,
		retryBackoff:  25 * time.Millisecond,
	}
}

// retryOptimistic replays fn on ledger version conflicts so each
// attempt reconciles against freshly committed state.
func (e *Engine) retryOptimistic(ctx context.Context, fn func() error) error {
	backoff := e.retryBackoff
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		err := fn()
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return booking.ErrConcurrentUpdateExhausted
}

// HandleOrderCreated records the gateway order ack and moves the
// booking to PAYMENT_PENDING. A replayed ack is a successful no-op.
func (e *Engine) HandleOrderCreated(ctx context.Context, bookingID uint64, ord gateway.Order) error {
	return e.retryOptimistic(ctx, func() error {
		err := e.co.WithinTx(ctx, func(tx *sql.Tx) error {
			b, err := e.bookings.GetForUpdateTx(ctx, tx, bookingID)
			if err != nil {
				return err
			}
			if _, err := e.payments.OrderByGatewayIDTx(ctx, tx, ord.ID); err == nil {
				return booking.ErrInvalidTransition // order already recorded
			} else if !errors.Is(err, repository.ErrOrderNotFound) {
				return err
			}
			if err := e.payments.CreateOrderTx(ctx, tx, &model.PaymentOrder{
				GatewayOrderID: ord.ID,
				BookingID:      b.ID,
				Amount:         ord.Amount,
				Currency:       ord.Currency,
				Status:         "CREATED",
			}); err != nil {
				return err
			}
			_, err = e.applier.ApplyTx(ctx, tx, &b, booking.EventOrderCreated, time.Now().UTC())
			return err
		})
		if errors.Is(err, booking.ErrInvalidTransition) {
			log.Printf("reconcile: order %s for booking %d already applied", ord.ID, bookingID)
			return nil
		}
		return err
	})
}

// HandleVerification checks a client-submitted payment signature.
// On success the booking is confirmed exactly as a captured webhook
// would confirm it; on mismatch the booking moves to
// PAYMENT_FAILED_VERIFIED, its capacity is released and
// ErrVerificationFailed is returned.
func (e *Engine) HandleVerification(ctx context.Context, p VerificationPayload) (model.Booking, error) {
	now := time.Now().UTC()
	if !gateway.VerifyPaymentSignature(p.GatewayOrderID, p.GatewayPaymentID, p.Signature, e.verifySecret) {
		b, err := e.applyPaymentOutcome(ctx, p.GatewayOrderID, p.GatewayPaymentID, "FAILED",
			booking.EventVerificationFailed, now, nil)
		if err != nil && !errors.Is(err, booking.ErrInvalidTransition) {
			return model.Booking{}, err
		}
		return b, ErrVerificationFailed
	}
	if e.fetcher != nil {
		if pay, err := e.fetcher.FetchPayment(ctx, p.GatewayPaymentID); err == nil && pay.CreatedAt > 0 {
			now = time.Unix(pay.CreatedAt, 0).UTC()
		} else if err != nil {
			log.Printf("reconcile: fetch payment %s: %v; using local time", p.GatewayPaymentID, err)
		}
	}
	return e.applyCapture(ctx, p.GatewayOrderID, p.GatewayPaymentID, now, nil)
}

// HandleWebhook verifies the HMAC over the exact raw body, parses the
// event and applies it. Replays of already-processed events succeed
// without re-applying anything.
func (e *Engine) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !gateway.VerifyWebhookSignature(rawBody, signature, e.webhookSecret) {
		return ErrInvalidSignature
	}
	ev, err := ParseWebhook(rawBody)
	if err != nil {
		return err
	}
	if e.dedup.Seen(ctx, ev.ID) {
		log.Printf("reconcile: webhook %s (%s) already processed", ev.ID, ev.Event)
		return nil
	}

	at := time.Unix(ev.CreatedAt, 0).UTC()
	pay := ev.Payload.Payment.Entity
	switch ev.Event {
	case EventPaymentCaptured, EventOrderPaid:
		_, err = e.applyCapture(ctx, pay.OrderID, pay.ID, at, rawBody)
	case EventPaymentFailed:
		_, err = e.applyPaymentOutcome(ctx, pay.OrderID, pay.ID, "FAILED", booking.EventPaymentFailed, at, rawBody)
	case EventPaymentExpired:
		_, err = e.applyPaymentOutcome(ctx, pay.OrderID, pay.ID, "EXPIRED", booking.EventPaymentExpired, at, rawBody)
	case EventPaymentCancelled:
		_, err = e.applyPaymentOutcome(ctx, pay.OrderID, pay.ID, "CANCELLED", booking.EventPaymentCancelled, at, rawBody)
	case EventRefundProcessed:
		err = e.applyRefundOutcome(ctx, ev.Payload.Refund.Entity, model.RefundProcessed, at)
	case EventRefundFailed:
		err = e.applyRefundOutcome(ctx, ev.Payload.Refund.Entity, model.RefundFailed, at)
	}
	if errors.Is(err, booking.ErrInvalidTransition) {
		// Duplicate or out-of-order event; the precedence rules
		// decided the current state wins. Acknowledge it.
		log.Printf("reconcile: webhook %s (%s) is a no-op: %v", ev.ID, ev.Event, err)
		err = nil
	}
	if err != nil {
		return err
	}
	e.dedup.Mark(ctx, ev.ID)
	return nil
}

// captureEvent picks the booking event for a gateway success.
// CONFIRMED is sticky, so a replayed capture is a no-op. A recorded
// failure is superseded only when the gateway timestamp of the
// success is strictly newer than the failure's.
func captureEvent(b model.Booking, lastFailure *model.PaymentAttempt, at time.Time) (booking.Event, bool) {
	if _, err := booking.Next(b.Status, booking.EventPaymentCaptured); err == nil {
		return booking.EventPaymentCaptured, true
	}
	if _, err := booking.Next(b.Status, booking.EventLateCapture); err == nil {
		if lastFailure == nil || at.After(lastFailure.GatewayCreatedAt) {
			return booking.EventLateCapture, true
		}
	}
	return "", false
}

// applyCapture reconciles a success event, honoring the stickiness
// and supersede rules, and notifies on a newly confirmed booking.
func (e *Engine) applyCapture(ctx context.Context, gatewayOrderID, gatewayPaymentID string, at time.Time, raw []byte) (model.Booking, error) {
	var confirmed model.Booking
	var applied bool
	err := e.retryOptimistic(ctx, func() error {
		applied = false
		return e.co.WithinTx(ctx, func(tx *sql.Tx) error {
			ord, err := e.payments.OrderByGatewayIDTx(ctx, tx, gatewayOrderID)
			if err != nil {
				return err
			}
			b, err := e.bookings.GetForUpdateTx(ctx, tx, ord.BookingID)
			if err != nil {
				return err
			}
			confirmed = b
			lastFailure, err := e.payments.LatestFailureTx(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			ev, ok := captureEvent(b, lastFailure, at)
			if !ok {
				return nil // sticky state wins; acknowledge quietly
			}
			if _, err := e.applier.ApplyTx(ctx, tx, &b, ev, time.Now().UTC()); err != nil {
				return err
			}
			if err := e.payments.CreateAttemptTx(ctx, tx, &model.PaymentAttempt{
				GatewayPaymentID: gatewayPaymentID,
				GatewayOrderID:   gatewayOrderID,
				BookingID:        b.ID,
				Outcome:          "CAPTURED",
				RawPayload:       raw,
				GatewayCreatedAt: at,
			}); err != nil {
				return err
			}
			if err := e.payments.UpdateOrderStatusTx(ctx, tx, gatewayOrderID, "PAID"); err != nil {
				return err
			}
			confirmed = b
			applied = true
			return nil
		})
	})
	if err != nil {
		if capacityDrop(err) {
			// The slots were re-sold while the booking sat in a
			// failed state. Redelivering the event cannot change
			// that, so acknowledge it and leave the booking failed.
			log.Printf("reconcile: capture for order %s dropped: %v", gatewayOrderID, err)
			return confirmed, nil
		}
		return model.Booking{}, err
	}
	if applied && e.notifier != nil {
		e.notifier.BookingConfirmed(ctx, confirmed)
	}
	return confirmed, nil
}

// refundSummary derives the booking-level refund status after one
// refund settles. FULL needs the whole booking cancelled with no
// other refund still awaiting its gateway outcome; sequential partial
// cancellations otherwise settle one row at a time.
func refundSummary(bookingStatus string, pendingRefunds int64) string {
	if bookingStatus == booking.StatusCancelled && pendingRefunds == 0 {
		return model.RefundStatusFull
	}
	return model.RefundStatusPartial
}

// capacityDrop reports whether a capture failed only because the
// match filled up in the meantime. Such events are terminal: they are
// logged and acknowledged rather than handed back to the gateway for
// redelivery.
func capacityDrop(err error) bool {
	return errors.Is(err, ledger.ErrCapacityExceeded)
}

// applyPaymentOutcome reconciles a failure-type event: the booking
// transitions, the reservation lock is released and the attempt is
// recorded, all in one transaction.
func (e *Engine) applyPaymentOutcome(ctx context.Context, gatewayOrderID, gatewayPaymentID, outcome string, ev booking.Event, at time.Time, raw []byte) (model.Booking, error) {
	var out model.Booking
	err := e.retryOptimistic(ctx, func() error {
		return e.co.WithinTx(ctx, func(tx *sql.Tx) error {
			ord, err := e.payments.OrderByGatewayIDTx(ctx, tx, gatewayOrderID)
			if err != nil {
				return err
			}
			b, err := e.bookings.GetForUpdateTx(ctx, tx, ord.BookingID)
			if err != nil {
				return err
			}
			if _, err := e.applier.ApplyTx(ctx, tx, &b, ev, time.Now().UTC()); err != nil {
				return err
			}
			if err := e.payments.CreateAttemptTx(ctx, tx, &model.PaymentAttempt{
				GatewayPaymentID: gatewayPaymentID,
				GatewayOrderID:   gatewayOrderID,
				BookingID:        b.ID,
				Outcome:          outcome,
				RawPayload:       raw,
				GatewayCreatedAt: at,
			}); err != nil {
				return err
			}
			if err := e.payments.UpdateOrderStatusTx(ctx, tx, gatewayOrderID, outcome); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	return out, err
}

// applyRefundOutcome finalizes a refund row and, when processed, the
// refund-pending slots and the booking's refund summary.
func (e *Engine) applyRefundOutcome(ctx context.Context, entity RefundEntity, status string, at time.Time) error {
	var b model.Booking
	var rf model.Refund
	var processed bool
	err := e.co.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		rf, err = e.payments.RefundByGatewayIDTx(ctx, tx, entity.ID)
		if errors.Is(err, repository.ErrRefundNotFound) {
			// A refund we never initiated; record nothing but surface
			// it for investigation.
			return fmt.Errorf("refund webhook for unknown refund %s: %w", entity.ID, err)
		}
		if err != nil {
			return err
		}
		if rf.Status == status {
			return booking.ErrInvalidTransition // replay
		}
		if err := e.payments.UpdateRefundStatusTx(ctx, tx, rf.ID, status); err != nil {
			return err
		}
		b, err = e.bookings.GetForUpdateTx(ctx, tx, rf.BookingID)
		if err != nil {
			return err
		}
		if status != model.RefundProcessed {
			return nil
		}
		processed = true
		if err := e.bookings.MarkSlotsRefundedTx(ctx, tx, b.ID, rf.ID, at); err != nil {
			return err
		}
		pending, err := e.payments.CountPendingRefundsTx(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		summary := refundSummary(b.Status, pending)
		b.RefundStatus = summary
		return e.bookings.UpdateRefundStatusTx(ctx, tx, b.ID, summary)
	})
	if errors.Is(err, booking.ErrInvalidTransition) {
		log.Printf("reconcile: refund %s already %s", entity.ID, status)
		return nil
	}
	if err != nil {
		return err
	}
	if processed && e.notifier != nil {
		e.notifier.RefundCompleted(ctx, b, rf)
	}
	return nil
}
