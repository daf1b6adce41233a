package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/techdoodle/match-slot-booking/internal/model"
)

// PaymentRepo provides data access to payment orders, payment attempts
// and refund records. Every artifact is keyed by a gateway-issued
// identifier plus the internal booking reference, so reconciliation
// can map inbound events to bookings and detect replays.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to the provided database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// CreateOrderTx records the gateway order created for a booking.
func (r *PaymentRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, o *model.PaymentOrder) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_orders (gateway_order_id, booking_id, amount, currency, status)
		 VALUES (?, ?, ?, ?, ?)`,
		o.GatewayOrderID, o.BookingID, o.Amount, o.Currency, o.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

// OrderByGatewayIDTx resolves a gateway order id to the stored order.
func (r *PaymentRepo) OrderByGatewayIDTx(ctx context.Context, tx *sql.Tx, gatewayOrderID string) (model.PaymentOrder, error) {
	var o model.PaymentOrder
	err := tx.QueryRowContext(ctx,
		`SELECT id, gateway_order_id, booking_id, amount, currency, status, created_at, updated_at
		 FROM payment_orders WHERE gateway_order_id = ?`, gatewayOrderID,
	).Scan(&o.ID, &o.GatewayOrderID, &o.BookingID, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PaymentOrder{}, ErrOrderNotFound
	}
	return o, err
}

// LatestOrderByBooking returns the most recent gateway order opened
// for the booking. Read path only.
func (r *PaymentRepo) LatestOrderByBooking(ctx context.Context, bookingID uint64) (model.PaymentOrder, error) {
	var o model.PaymentOrder
	err := r.db.QueryRowContext(ctx,
		`SELECT id, gateway_order_id, booking_id, amount, currency, status, created_at, updated_at
		 FROM payment_orders WHERE booking_id = ? ORDER BY id DESC LIMIT 1`, bookingID,
	).Scan(&o.ID, &o.GatewayOrderID, &o.BookingID, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PaymentOrder{}, ErrOrderNotFound
	}
	return o, err
}

// UpdateOrderStatusTx writes the order's summary status.
func (r *PaymentRepo) UpdateOrderStatusTx(ctx context.Context, tx *sql.Tx, gatewayOrderID, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_orders SET status = ?, updated_at = UTC_TIMESTAMP() WHERE gateway_order_id = ?`,
		status, gatewayOrderID)
	return err
}

// CreateAttemptTx records one gateway payment event, including the raw
// payload and the gateway's own timestamp.
func (r *PaymentRepo) CreateAttemptTx(ctx context.Context, tx *sql.Tx, a *model.PaymentAttempt) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_attempts (gateway_payment_id, gateway_order_id, booking_id, outcome, raw_payload, gateway_created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.GatewayPaymentID, a.GatewayOrderID, a.BookingID, a.Outcome, a.RawPayload,
		a.GatewayCreatedAt.UTC().Format(sqlTime))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// LatestFailureTx returns the newest failure-type attempt for the
// booking by gateway timestamp, or nil when none exists. The
// reconciliation engine compares this against a late success event.
func (r *PaymentRepo) LatestFailureTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.PaymentAttempt, error) {
	var a model.PaymentAttempt
	err := tx.QueryRowContext(ctx,
		`SELECT id, gateway_payment_id, gateway_order_id, booking_id, outcome, raw_payload, gateway_created_at, created_at
		 FROM payment_attempts
		 WHERE booking_id = ? AND outcome IN ('FAILED', 'EXPIRED', 'CANCELLED')
		 ORDER BY gateway_created_at DESC LIMIT 1`, bookingID,
	).Scan(&a.ID, &a.GatewayPaymentID, &a.GatewayOrderID, &a.BookingID, &a.Outcome,
		&a.RawPayload, &a.GatewayCreatedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LatestCaptureTx returns the newest captured attempt for the booking,
// or nil when the booking never had a successful payment. Cancellation
// refunds are issued against this payment.
func (r *PaymentRepo) LatestCaptureTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.PaymentAttempt, error) {
	var a model.PaymentAttempt
	err := tx.QueryRowContext(ctx,
		`SELECT id, gateway_payment_id, gateway_order_id, booking_id, outcome, raw_payload, gateway_created_at, created_at
		 FROM payment_attempts
		 WHERE booking_id = ? AND outcome = 'CAPTURED'
		 ORDER BY gateway_created_at DESC LIMIT 1`, bookingID,
	).Scan(&a.ID, &a.GatewayPaymentID, &a.GatewayOrderID, &a.BookingID, &a.Outcome,
		&a.RawPayload, &a.GatewayCreatedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateRefundTx records a refund request before the gateway is asked
// to execute it; the row starts PENDING and is finalized by the
// refund webhooks.
func (r *PaymentRepo) CreateRefundTx(ctx context.Context, tx *sql.Tx, rf *model.Refund) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO refunds (gateway_refund_id, booking_id, amount, status, idempotency_key)
		 VALUES (?, ?, ?, ?, ?)`,
		rf.GatewayRefundID, rf.BookingID, rf.Amount, rf.Status, rf.IdempotencyKey)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rf.ID = uint64(id)
	return nil
}

// AttachGatewayRefundTx stores the gateway refund id once the refund
// call has been acknowledged.
func (r *PaymentRepo) AttachGatewayRefundTx(ctx context.Context, tx *sql.Tx, refundID uint64, gatewayRefundID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE refunds SET gateway_refund_id = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		gatewayRefundID, refundID)
	return err
}

// RefundByGatewayIDTx resolves a gateway refund id to the stored row.
func (r *PaymentRepo) RefundByGatewayIDTx(ctx context.Context, tx *sql.Tx, gatewayRefundID string) (model.Refund, error) {
	var rf model.Refund
	err := tx.QueryRowContext(ctx,
		`SELECT id, gateway_refund_id, booking_id, amount, status, idempotency_key, created_at, updated_at
		 FROM refunds WHERE gateway_refund_id = ?`, gatewayRefundID,
	).Scan(&rf.ID, &rf.GatewayRefundID, &rf.BookingID, &rf.Amount, &rf.Status, &rf.IdempotencyKey, &rf.CreatedAt, &rf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Refund{}, ErrRefundNotFound
	}
	return rf, err
}

// UpdateRefundStatusTx finalizes a refund row.
func (r *PaymentRepo) UpdateRefundStatusTx(ctx context.Context, tx *sql.Tx, refundID uint64, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE refunds SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		status, refundID)
	return err
}

// CountPendingRefundsTx returns how many refunds of the booking are
// still awaiting a gateway outcome.
func (r *PaymentRepo) CountPendingRefundsTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refunds WHERE booking_id = ? AND status = ?`,
		bookingID, model.RefundPending).Scan(&n)
	return n, err
}

// RefundsByBooking lists the booking's refund rows, oldest first.
func (r *PaymentRepo) RefundsByBooking(ctx context.Context, bookingID uint64) ([]model.Refund, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, gateway_refund_id, booking_id, amount, status, idempotency_key, created_at, updated_at
		 FROM refunds WHERE booking_id = ? ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Refund
	for rows.Next() {
		var rf model.Refund
		if err := rows.Scan(&rf.ID, &rf.GatewayRefundID, &rf.BookingID, &rf.Amount, &rf.Status,
			&rf.IdempotencyKey, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
