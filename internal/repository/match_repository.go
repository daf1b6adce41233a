package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
)

// sqlTime is the MySQL DATETIME layout used when binding timestamps.
// All timestamps are stored and compared in UTC.
const sqlTime = "2006-01-02 15:04:05"

// MatchRepo provides data access to the matches and match_slot_locks
// tables. The capacity fields on the match row are mutated only
// through the ledger primitives, which run against a MatchStore bound
// to a transaction; the version column is the optimistic-lock token
// and is part of every conditional update's predicate.
type MatchRepo struct {
	db *sql.DB
}

// NewMatchRepo returns a MatchRepo bound to the provided database.
func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// DB exposes the handle for callers that need to open transactions.
func (r *MatchRepo) DB() *sql.DB { return r.db }

// WithTx binds a ledger store to an open transaction. Every ledger
// operation's reads and writes then share that transaction, so a
// version conflict rolls the whole unit of work back.
func (r *MatchRepo) WithTx(tx *sql.Tx) *MatchStore { return &MatchStore{tx: tx} }

// GetCatalog reads the catalog view of a match: capacity, buffer,
// start time and per-slot price. The core never caches this beyond
// the transaction in which it is read.
func (r *MatchRepo) GetCatalog(ctx context.Context, matchID uint64) (model.Match, error) {
	return scanMatch(r.db.QueryRowContext(ctx, selectMatch, matchID))
}

// ListMatchIDsWithExpiredLocks returns the ids of matches holding at
// least one lock expired at cutoff. Used by the periodic sweeper.
func (r *MatchRepo) ListMatchIDsWithExpiredLocks(ctx context.Context, cutoff time.Time) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT match_id FROM match_slot_locks WHERE expires_at <= ?`,
		cutoff.UTC().Format(sqlTime),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveLockedSlots sums the slot counts of unexpired locks. Read
// path only; the authoritative count inside a reserve runs on the
// transaction via MatchStore.
func (r *MatchRepo) ActiveLockedSlots(ctx context.Context, matchID uint64, now time.Time) (uint32, error) {
	var locked uint32
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(slot_count), 0) FROM match_slot_locks WHERE match_id = ? AND expires_at > ?`,
		matchID, now.UTC().Format(sqlTime),
	).Scan(&locked)
	return locked, err
}

const selectMatch = `SELECT id, player_capacity, buffer_capacity, booked_slots, version, starts_at, per_slot_price, created_at, updated_at
FROM matches WHERE id = ?`

func scanMatch(row *sql.Row) (model.Match, error) {
	var m model.Match
	err := row.Scan(&m.ID, &m.PlayerCapacity, &m.BufferCapacity, &m.BookedSlots, &m.Version,
		&m.StartsAt, &m.PerSlotPrice, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Match{}, ErrMatchNotFound
	}
	if err != nil {
		return model.Match{}, err
	}
	return m, nil
}

// MatchStore is the transactional ledger.Store implementation over
// MySQL. All methods execute on the bound transaction.
type MatchStore struct {
	tx *sql.Tx
}

var _ ledger.Store = (*MatchStore)(nil)

// Capacity loads the match row and all of its lock entries.
func (s *MatchStore) Capacity(ctx context.Context, matchID uint64) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	row := s.tx.QueryRowContext(ctx, selectMatch, matchID)
	var err error
	if snap.Match, err = scanMatch(row); err != nil {
		return ledger.Snapshot{}, err
	}
	rows, err := s.tx.QueryContext(ctx,
		`SELECT reservation_id, match_id, slot_count, expires_at, created_at
		 FROM match_slot_locks WHERE match_id = ?`, matchID)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l model.SlotLock
		if err := rows.Scan(&l.ReservationID, &l.MatchID, &l.SlotCount, &l.ExpiresAt, &l.CreatedAt); err != nil {
			return ledger.Snapshot{}, err
		}
		snap.Locks = append(snap.Locks, l)
	}
	return snap, rows.Err()
}

// InsertLock records a new reservation lock.
func (s *MatchStore) InsertLock(ctx context.Context, lock model.SlotLock) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO match_slot_locks (reservation_id, match_id, slot_count, expires_at) VALUES (?, ?, ?, ?)`,
		lock.ReservationID, lock.MatchID, lock.SlotCount, lock.ExpiresAt.UTC().Format(sqlTime),
	)
	return err
}

// DeleteLock removes and returns the lock for reservationID.
func (s *MatchStore) DeleteLock(ctx context.Context, matchID uint64, reservationID string) (model.SlotLock, error) {
	var l model.SlotLock
	err := s.tx.QueryRowContext(ctx,
		`SELECT reservation_id, match_id, slot_count, expires_at, created_at
		 FROM match_slot_locks WHERE match_id = ? AND reservation_id = ?`,
		matchID, reservationID,
	).Scan(&l.ReservationID, &l.MatchID, &l.SlotCount, &l.ExpiresAt, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SlotLock{}, ledger.ErrLockNotFound
	}
	if err != nil {
		return model.SlotLock{}, err
	}
	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM match_slot_locks WHERE match_id = ? AND reservation_id = ?`,
		matchID, reservationID); err != nil {
		return model.SlotLock{}, err
	}
	return l, nil
}

// DeleteExpiredLocks removes every lock expired at or before cutoff.
func (s *MatchStore) DeleteExpiredLocks(ctx context.Context, matchID uint64, cutoff time.Time) (int, error) {
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM match_slot_locks WHERE match_id = ? AND expires_at <= ?`,
		matchID, cutoff.UTC().Format(sqlTime))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CommitVersion is the conditional write every ledger mutation ends
// with: it applies the booked delta and bumps the version only when
// the row is still at fromVersion. Zero affected rows means a
// concurrent writer won and the caller must roll back and retry.
func (s *MatchStore) CommitVersion(ctx context.Context, matchID uint64, fromVersion uint64, bookedDelta int32) (uint64, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE matches
		 SET booked_slots = booked_slots + ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND version = ?`,
		bookedDelta, matchID, fromVersion)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ledger.ErrVersionConflict
	}
	return fromVersion + 1, nil
}
