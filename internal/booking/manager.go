package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/techdoodle/match-slot-booking/internal/gateway"
	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
	"github.com/techdoodle/match-slot-booking/internal/refund"
	"github.com/techdoodle/match-slot-booking/internal/repository"
	"github.com/techdoodle/match-slot-booking/internal/txn"
)

var (
	// ErrConcurrentUpdateExhausted means the optimistic retry budget
	// ran out without a committed decision. It is a transient
	// condition, not a statement about capacity.
	ErrConcurrentUpdateExhausted = errors.New("concurrent update retries exhausted")

	// ErrInvalidSlots means the requested slot numbers are empty,
	// duplicated or outside [1, capacity].
	ErrInvalidSlots = errors.New("invalid slot selection")

	// ErrMatchStarted means the match has already kicked off and no
	// longer accepts bookings.
	ErrMatchStarted = errors.New("match already started")

	// ErrNotCancellable means at least one requested slot is not in a
	// cancellable state.
	ErrNotCancellable = errors.New("slot not cancellable")
)

// OrderCreator is the slice of the gateway client the manager needs
// to open a payment order for a fresh booking.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (gateway.Order, error)
}

// RefundRequester is the slice of the gateway client used to request
// refunds on cancellation.
type RefundRequester interface {
	CreateRefund(ctx context.Context, paymentID string, amount int64, idempotencyKey string) (gateway.RefundAck, error)
}

// OrderRecorder is implemented by the payment reconciliation engine:
// it records the gateway's order-created ack and moves the booking to
// PAYMENT_PENDING.
type OrderRecorder interface {
	HandleOrderCreated(ctx context.Context, bookingID uint64, ord gateway.Order) error
}

// PromoApplier is the promo/discount collaborator. Its output is an
// opaque adjustment to the booking amount.
type PromoApplier interface {
	ApplyDiscount(ctx context.Context, amount int64, promoCode string, matchID uint64, userID *uint64) (discounted int64, discount int64, err error)
}

// SlotRequest is one requested slot with optional player details.
type SlotRequest struct {
	SlotNumber  uint32
	PlayerName  *string
	PlayerPhone *string
}

// Draft carries everything needed to create a booking.
type Draft struct {
	MatchID   uint64
	UserID    *uint64
	Slots     []SlotRequest
	PromoCode *string
	Metadata  map[string]string
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	Booking   model.Booking
	Breakdown refund.Breakdown
	RefundID  uint64
}

// Manager orchestrates multi-slot reservation against the capacity
// ledger with bounded optimistic retry, and the cancellation flow that
// routes through the refund calculator before mutating state.
type Manager struct {
	co       *txn.Coordinator
	matches  *repository.MatchRepo
	bookings *repository.BookingRepo
	payments *repository.PaymentRepo
	applier  *Applier
	orders   OrderCreator
	recorder OrderRecorder
	refunds  RefundRequester
	promo    PromoApplier
	policy   refund.Policy

	currency     string
	holdTTL      time.Duration
	maxAttempts  int
	retryBackoff time.Duration
}

// ManagerConfig bundles the tunables for NewManager.
type ManagerConfig struct {
	Currency     string        // ISO currency code for gateway orders
	HoldTTL      time.Duration // reservation lock lifetime
	MaxAttempts  int           // optimistic retry budget
	RetryBackoff time.Duration // base backoff, doubled per attempt
}

// NewManager constructs a Manager. The gateway and promo collaborators
// may be nil in tests; production wiring passes the real clients.
func NewManager(co *txn.Coordinator, matches *repository.MatchRepo, bookings *repository.BookingRepo,
	payments *repository.PaymentRepo, orders OrderCreator, recorder OrderRecorder,
	refunds RefundRequester, promo PromoApplier, policy refund.Policy, cfg ManagerConfig) *Manager {
	if co == nil || matches == nil || bookings == nil || payments == nil {
		panic("nil dependency passed to NewManager")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Manager{
		co:           co,
		matches:      matches,
		bookings:     bookings,
		payments:     payments,
		applier:      &Applier{Matches: matches, Bookings: bookings},
		orders:       orders,
		recorder:     recorder,
		refunds:      refunds,
		promo:        promo,
		policy:       policy,
		currency:     cfg.Currency,
		holdTTL:      cfg.HoldTTL,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
	}
}

// Policy exposes the refund policy for read paths (refund previews).
func (m *Manager) Policy() refund.Policy { return m.policy }

// newReference derives the externally shown booking code.
func newReference() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// validateSlotNumbers checks the request for emptiness, duplicates and
// out-of-range numbers against the match's nominal capacity.
func validateSlotNumbers(slots []SlotRequest, capacity uint32) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: no slots requested", ErrInvalidSlots)
	}
	seen := make(map[uint32]struct{}, len(slots))
	for _, s := range slots {
		if s.SlotNumber < 1 || s.SlotNumber > capacity {
			return fmt.Errorf("%w: slot %d out of range [1, %d]", ErrInvalidSlots, s.SlotNumber, capacity)
		}
		if _, dup := seen[s.SlotNumber]; dup {
			return fmt.Errorf("%w: slot %d requested twice", ErrInvalidSlots, s.SlotNumber)
		}
		seen[s.SlotNumber] = struct{}{}
	}
	return nil
}

// retryOptimistic runs fn until it stops returning a version conflict,
// backing off exponentially, up to the configured attempt budget.
func (m *Manager) retryOptimistic(ctx context.Context, fn func() error) error {
	backoff := m.retryBackoff
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
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
	return ErrConcurrentUpdateExhausted
}

// ReserveSlots reserves the requested slots, creates the booking and
// its slot rows in the same transaction as the ledger lock, and opens
// a gateway payment order. Surfaces ledger.ErrCapacityExceeded when
// the match is full and ErrConcurrentUpdateExhausted when the retry
// budget runs out; it never overbooks silently.
func (m *Manager) ReserveSlots(ctx context.Context, draft Draft) (model.Booking, error) {
	match, err := m.matches.GetCatalog(ctx, draft.MatchID)
	if err != nil {
		return model.Booking{}, err
	}
	now := time.Now().UTC()
	if !match.StartsAt.After(now) {
		return model.Booking{}, ErrMatchStarted
	}
	if err := validateSlotNumbers(draft.Slots, match.PlayerCapacity); err != nil {
		return model.Booking{}, err
	}

	amount := match.PerSlotPrice * int64(len(draft.Slots))
	original := amount
	var discount int64
	if draft.PromoCode != nil && m.promo != nil {
		amount, discount, err = m.promo.ApplyDiscount(ctx, amount, *draft.PromoCode, draft.MatchID, draft.UserID)
		if err != nil {
			return model.Booking{}, fmt.Errorf("apply promo: %w", err)
		}
	}

	b := model.Booking{
		Reference:      newReference(),
		MatchID:        draft.MatchID,
		UserID:         draft.UserID,
		ReservationID:  uuid.NewString(),
		SlotCount:      uint32(len(draft.Slots)),
		Amount:         amount,
		PromoCode:      draft.PromoCode,
		DiscountAmount: discount,
		OriginalAmount: original,
		Status:         StatusInitiated,
		PaymentStatus:  "PENDING",
		RefundStatus:   model.RefundStatusNone,
		Metadata:       draft.Metadata,
	}

	err = m.retryOptimistic(ctx, func() error {
		return m.co.WithinTx(ctx, func(tx *sql.Tx) error {
			st := m.matches.WithTx(tx)
			if _, err := ledger.Reserve(ctx, st, draft.MatchID, b.SlotCount, b.ReservationID, m.holdTTL, time.Now().UTC()); err != nil {
				return err
			}
			if err := m.bookings.CreateTx(ctx, tx, &b); err != nil {
				return err
			}
			slots := make([]model.BookingSlot, 0, len(draft.Slots))
			for _, s := range draft.Slots {
				slots = append(slots, model.BookingSlot{
					BookingID:    b.ID,
					SlotNumber:   s.SlotNumber,
					PlayerName:   s.PlayerName,
					PlayerPhone:  s.PlayerPhone,
					OccupantID:   draft.UserID,
					Status:       SlotPendingPayment,
					RefundStatus: model.RefundStatusNone,
				})
			}
			return m.bookings.CreateSlotsBulkTx(ctx, tx, slots)
		})
	})
	if err != nil {
		return model.Booking{}, err
	}

	if m.orders != nil && m.recorder != nil {
		if err := m.openPaymentOrder(ctx, &b); err != nil {
			return model.Booking{}, err
		}
	}
	return b, nil
}

// openPaymentOrder creates the gateway order and records the ack. A
// gateway failure releases the reservation immediately instead of
// waiting for the TTL sweep.
func (m *Manager) openPaymentOrder(ctx context.Context, b *model.Booking) error {
	ord, err := m.orders.CreateOrder(ctx, b.Amount, m.currency, b.Reference, map[string]string{
		"booking_reference": b.Reference,
	})
	if err != nil {
		log.Printf("booking %s: gateway order failed: %v", b.Reference, err)
		if ferr := m.retryOptimistic(ctx, func() error {
			return m.co.WithinTx(ctx, func(tx *sql.Tx) error {
				fresh, err := m.bookings.GetForUpdateTx(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				_, aerr := m.applier.ApplyTx(ctx, tx, &fresh, EventPaymentFailed, time.Now().UTC())
				*b = fresh
				return aerr
			})
		}); ferr != nil {
			log.Printf("booking %s: failed to release after gateway error: %v", b.Reference, ferr)
		}
		return fmt.Errorf("create payment order: %w", err)
	}

	if err := m.recorder.HandleOrderCreated(ctx, b.ID, ord); err != nil {
		return err
	}
	fresh, err := m.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = fresh
	return nil
}

// splitRefund distributes the total refund across n slots so the
// per-slot amounts sum exactly to the total.
func splitRefund(total int64, n int) []int64 {
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	base := total / int64(n)
	rem := total % int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

// CancelSlots cancels the given slot numbers of a confirmed booking.
// The refund breakdown is computed first, then the slot and booking
// transitions, the confirmed-capacity release and the refund row are
// committed in one transaction; the gateway refund request happens
// after commit and is finalized by the refund webhooks.
func (m *Manager) CancelSlots(ctx context.Context, bookingID uint64, slotNumbers []uint32, requester *uint64) (CancelResult, error) {
	if len(slotNumbers) == 0 {
		return CancelResult{}, fmt.Errorf("%w: no slots given", ErrInvalidSlots)
	}
	var res CancelResult
	var capturedPaymentID, refundKey string

	err := m.retryOptimistic(ctx, func() error {
		return m.co.WithinTx(ctx, func(tx *sql.Tx) error {
			b, err := m.bookings.GetForUpdateTx(ctx, tx, bookingID)
			if err != nil {
				return err
			}
			if requester != nil && (b.UserID == nil || *b.UserID != *requester) {
				return repository.ErrForbidden
			}

			slots, err := m.bookings.SlotsByBookingTx(ctx, tx, bookingID)
			if err != nil {
				return err
			}
			bySlot := make(map[uint32]model.BookingSlot, len(slots))
			activeLeft := 0
			for _, s := range slots {
				bySlot[s.SlotNumber] = s
				if s.Status == SlotActive {
					activeLeft++
				}
			}
			toCancel := make([]model.BookingSlot, 0, len(slotNumbers))
			for _, n := range slotNumbers {
				s, ok := bySlot[n]
				if !ok {
					return fmt.Errorf("%w: slot %d not part of booking", ErrInvalidSlots, n)
				}
				if _, err := NextSlot(s.Status, SlotEventCancel); err != nil {
					return fmt.Errorf("%w: slot %d is %s", ErrNotCancellable, n, s.Status)
				}
				toCancel = append(toCancel, s)
			}

			st := m.matches.WithTx(tx)
			snap, err := st.Capacity(ctx, b.MatchID)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			bd := refund.Calculate(m.policy, snap.Match.StartsAt, now, snap.Match.PerSlotPrice, len(toCancel))

			ev := EventCancelPart
			if len(toCancel) == activeLeft {
				ev = EventCancelAll
			}
			if _, err := m.applier.ApplyTx(ctx, tx, &b, ev, now); err != nil {
				return err
			}
			if _, err := ledger.ReleaseConfirmed(ctx, st, b.MatchID, uint32(len(toCancel))); err != nil {
				return err
			}

			// The refund row is created first so each cancelled slot
			// can point at it; the refund webhook later finalizes
			// only the slots carrying its id.
			var refundID *uint64
			if bd.RefundAmount > 0 {
				if err := m.bookings.UpdateRefundStatusTx(ctx, tx, b.ID, model.RefundStatusPending); err != nil {
					return err
				}
				b.RefundStatus = model.RefundStatusPending
				rf := model.Refund{
					BookingID:      b.ID,
					Amount:         bd.RefundAmount,
					Status:         model.RefundPending,
					IdempotencyKey: uuid.NewString(),
				}
				if err := m.payments.CreateRefundTx(ctx, tx, &rf); err != nil {
					return err
				}
				res.RefundID = rf.ID
				refundKey = rf.IdempotencyKey
				refundID = &rf.ID
				capture, err := m.payments.LatestCaptureTx(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				if capture != nil {
					capturedPaymentID = capture.GatewayPaymentID
				}
			}

			shares := splitRefund(bd.RefundAmount, len(toCancel))
			for i, s := range toCancel {
				status := SlotCancelled
				refundStatus := model.RefundStatusNone
				var slotRefund *uint64
				if shares[i] > 0 {
					status = SlotCancelledRefundWait
					refundStatus = model.RefundStatusPending
					slotRefund = refundID
				}
				if err := m.bookings.MarkSlotCancelledTx(ctx, tx, s.ID, status, refundStatus, shares[i], slotRefund, now); err != nil {
					return err
				}
			}
			res.Booking = b
			res.Breakdown = bd
			return nil
		})
	})
	if err != nil {
		return CancelResult{}, err
	}

	if res.Breakdown.RefundAmount > 0 && m.refunds != nil && capturedPaymentID != "" {
		m.requestGatewayRefund(ctx, res.RefundID, capturedPaymentID, res.Breakdown.RefundAmount, refundKey)
	}
	return res, nil
}

// requestGatewayRefund fires the refund call and stores the gateway
// refund id. Failures are logged; the refund row stays PENDING and is
// safe to retry with the same idempotency key.
func (m *Manager) requestGatewayRefund(ctx context.Context, refundID uint64, paymentID string, amount int64, key string) {
	ack, err := m.refunds.CreateRefund(ctx, paymentID, amount, key)
	if err != nil {
		log.Printf("refund %d: gateway refund request failed: %v", refundID, err)
		return
	}
	if err := m.co.WithinTx(ctx, func(tx *sql.Tx) error {
		return m.payments.AttachGatewayRefundTx(ctx, tx, refundID, ack.ID)
	}); err != nil {
		log.Printf("refund %d: failed to store gateway refund id %s: %v", refundID, ack.ID, err)
	}
}

// ExpireStalePending walks bookings stuck awaiting payment beyond ttl
// and expires them, releasing their reservations. Returns how many
// bookings were expired.
func (m *Manager) ExpireStalePending(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	stale, err := m.bookings.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range stale {
		b := b
		err := m.retryOptimistic(ctx, func() error {
			return m.co.WithinTx(ctx, func(tx *sql.Tx) error {
				fresh, err := m.bookings.GetForUpdateTx(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				_, aerr := m.applier.ApplyTx(ctx, tx, &fresh, EventTimeoutExpired, time.Now().UTC())
				return aerr
			})
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrInvalidTransition):
			// A payment event landed between the listing and this
			// transaction; nothing to expire anymore.
		default:
			log.Printf("expire booking %d: %v", b.ID, err)
		}
	}
	return expired, nil
}
