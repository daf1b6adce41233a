package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/model"
)

// BookingRepo provides data access to the bookings and booking_slots
// tables. Bookings are exclusively owned by one row and mutated only
// on behalf of the state machine, so the repo offers FOR UPDATE reads
// to serialize concurrent event application per booking while the
// match row stays under optimistic control.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingCols = `id, reference, match_id, user_id, reservation_id, slot_count, amount,
promo_code, discount_amount, original_amount, status, payment_status, refund_status,
metadata, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (model.Booking, error) {
	var b model.Booking
	var meta []byte
	err := row.Scan(&b.ID, &b.Reference, &b.MatchID, &b.UserID, &b.ReservationID, &b.SlotCount,
		&b.Amount, &b.PromoCode, &b.DiscountAmount, &b.OriginalAmount, &b.Status,
		&b.PaymentStatus, &b.RefundStatus, &meta, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return model.Booking{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			return model.Booking{}, err
		}
	}
	return b, nil
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// CreateTx inserts a booking and populates its ID. The caller must
// commit or roll back the transaction.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	meta, err := marshalMeta(b.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (reference, match_id, user_id, reservation_id, slot_count, amount,
		 promo_code, discount_amount, original_amount, status, payment_status, refund_status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reference, b.MatchID, b.UserID, b.ReservationID, b.SlotCount, b.Amount,
		b.PromoCode, b.DiscountAmount, b.OriginalAmount, b.Status, b.PaymentStatus,
		b.RefundStatus, meta)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// CreateSlotsBulkTx inserts the booking's slots in one statement.
// Slot numbers are unique per booking; the (booking_id, slot_number)
// uniqueness constraint backs that up.
func (r *BookingRepo) CreateSlotsBulkTx(ctx context.Context, tx *sql.Tx, slots []model.BookingSlot) error {
	if len(slots) == 0 {
		return nil
	}
	query := `INSERT INTO booking_slots (booking_id, slot_number, player_name, player_phone, occupant_id, status, refund_status, refund_amount, metadata) VALUES `
	args := make([]interface{}, 0, len(slots)*9)
	for i, s := range slots {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		meta, err := marshalMeta(s.Metadata)
		if err != nil {
			return err
		}
		args = append(args, s.BookingID, s.SlotNumber, s.PlayerName, s.PlayerPhone,
			s.OccupantID, s.Status, s.RefundStatus, s.RefundAmount, meta)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID loads a booking outside any transaction, for read paths.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	return scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = ?`, id))
}

// GetByReference loads a booking by its external reference code.
func (r *BookingRepo) GetByReference(ctx context.Context, ref string) (model.Booking, error) {
	return scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE reference = ?`, ref))
}

// GetForUpdateTx loads a booking with a row lock so concurrent
// reconciliation events for the same booking apply serially.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Booking, error) {
	return scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = ? FOR UPDATE`, id))
}

const slotsByBookingQuery = `SELECT id, booking_id, slot_number, player_name, player_phone, occupant_id, status,
	 refund_status, refund_amount, refund_id, cancelled_at, refunded_at, metadata, created_at, updated_at
	 FROM booking_slots WHERE booking_id = ? ORDER BY slot_number`

// SlotsByBookingTx returns the booking's slots ordered by slot number.
func (r *BookingRepo) SlotsByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.BookingSlot, error) {
	return scanSlotRows(tx.QueryContext(ctx, slotsByBookingQuery, bookingID))
}

// SlotsByBooking is the read-path variant of SlotsByBookingTx.
func (r *BookingRepo) SlotsByBooking(ctx context.Context, bookingID uint64) ([]model.BookingSlot, error) {
	return scanSlotRows(r.db.QueryContext(ctx, slotsByBookingQuery, bookingID))
}

func scanSlotRows(rows *sql.Rows, err error) ([]model.BookingSlot, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []model.BookingSlot
	for rows.Next() {
		var s model.BookingSlot
		var meta []byte
		if err := rows.Scan(&s.ID, &s.BookingID, &s.SlotNumber, &s.PlayerName, &s.PlayerPhone,
			&s.OccupantID, &s.Status, &s.RefundStatus, &s.RefundAmount, &s.RefundID, &s.CancelledAt,
			&s.RefundedAt, &meta, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &s.Metadata); err != nil {
				return nil, err
			}
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// UpdateStatusTx writes the booking's lifecycle and payment statuses.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, status, paymentStatus string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, payment_status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		status, paymentStatus, bookingID)
	return err
}

// UpdateRefundStatusTx writes the booking-level refund summary.
func (r *BookingRepo) UpdateRefundStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, refundStatus string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bookings SET refund_status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		refundStatus, bookingID)
	return err
}

// BulkUpdateSlotStatusTx sets the status for every listed slot number
// of the booking in one statement.
func (r *BookingRepo) BulkUpdateSlotStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, slotNumbers []uint32, status string) error {
	if len(slotNumbers) == 0 {
		return nil
	}
	query := `UPDATE booking_slots SET status = ?, updated_at = UTC_TIMESTAMP() WHERE booking_id = ? AND slot_number IN (`
	args := []interface{}{status, bookingID}
	for i, n := range slotNumbers {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, n)
	}
	query += ")"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarkSlotCancelledTx records a slot cancellation together with its
// refund share in one write.
func (r *BookingRepo) MarkSlotCancelledTx(ctx context.Context, tx *sql.Tx, slotID uint64, status, refundStatus string, refundAmount int64, refundID *uint64, cancelledAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE booking_slots
		 SET status = ?, refund_status = ?, refund_amount = ?, refund_id = ?, cancelled_at = ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ?`,
		status, refundStatus, refundAmount, refundID, cancelledAt.UTC().Format(sqlTime), slotID)
	return err
}

// MarkSlotsRefundedTx finalizes the slots tied to one refund row.
// Slots waiting on a different refund of the same booking are
// untouched; their own webhook finalizes them.
func (r *BookingRepo) MarkSlotsRefundedTx(ctx context.Context, tx *sql.Tx, bookingID, refundID uint64, refundedAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE booking_slots
		 SET status = ?, refund_status = ?, refunded_at = ?, updated_at = UTC_TIMESTAMP()
		 WHERE booking_id = ? AND refund_id = ? AND status = ?`,
		"CANCELLED_REFUNDED", model.RefundProcessed, refundedAt.UTC().Format(sqlTime),
		bookingID, refundID, "CANCELLED_REFUND_PENDING")
	return err
}

// ListStalePending returns bookings still awaiting payment whose
// created_at is older than cutoff. The sweeper expires them.
func (r *BookingRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings
		 WHERE status IN ('INITIATED', 'PAYMENT_PENDING') AND created_at <= ?
		 ORDER BY created_at LIMIT ?`,
		cutoff.UTC().Format(sqlTime), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListByUser returns a user's bookings, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
