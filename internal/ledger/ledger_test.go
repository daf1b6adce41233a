package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/model"
)

// memDB models the storage layer: canonical state guarded by a mutex,
// with per-attempt transactions that stage mutations and apply them
// atomically at CommitVersion iff the version is unchanged, the same
// contract the MySQL store provides via its conditional UPDATE.
type memDB struct {
	mu    sync.Mutex
	match model.Match
	locks map[string]model.SlotLock
}

func newMemDB(capacity, buffer uint32) *memDB {
	return &memDB{
		match: model.Match{ID: 1, PlayerCapacity: capacity, BufferCapacity: buffer, Version: 1},
		locks: make(map[string]model.SlotLock),
	}
}

func (d *memDB) Begin() *memTx {
	return &memTx{db: d, deleted: make(map[string]struct{})}
}

// state returns a consistent copy of the current committed state.
func (d *memDB) state() (model.Match, []model.SlotLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	locks := make([]model.SlotLock, 0, len(d.locks))
	for _, l := range d.locks {
		locks = append(locks, l)
	}
	return d.match, locks
}

type memTx struct {
	db       *memDB
	inserted []model.SlotLock
	deleted  map[string]struct{}
}

func (t *memTx) Capacity(_ context.Context, _ uint64) (ledger.Snapshot, error) {
	m, locks := t.db.state()
	return ledger.Snapshot{Match: m, Locks: locks}, nil
}

func (t *memTx) InsertLock(_ context.Context, lock model.SlotLock) error {
	t.inserted = append(t.inserted, lock)
	return nil
}

func (t *memTx) DeleteLock(_ context.Context, _ uint64, reservationID string) (model.SlotLock, error) {
	t.db.mu.Lock()
	l, ok := t.db.locks[reservationID]
	t.db.mu.Unlock()
	if !ok {
		return model.SlotLock{}, ledger.ErrLockNotFound
	}
	t.deleted[reservationID] = struct{}{}
	return l, nil
}

func (t *memTx) DeleteExpiredLocks(_ context.Context, _ uint64, cutoff time.Time) (int, error) {
	_, locks := t.db.state()
	n := 0
	for _, l := range locks {
		if !l.ExpiresAt.After(cutoff) {
			t.deleted[l.ReservationID] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (t *memTx) CommitVersion(_ context.Context, _ uint64, fromVersion uint64, bookedDelta int32) (uint64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.match.Version != fromVersion {
		return 0, ledger.ErrVersionConflict
	}
	for id := range t.deleted {
		delete(t.db.locks, id)
	}
	for _, l := range t.inserted {
		t.db.locks[l.ReservationID] = l
	}
	t.db.match.BookedSlots = uint32(int32(t.db.match.BookedSlots) + bookedDelta)
	t.db.match.Version++
	return t.db.match.Version, nil
}

// checkInvariant asserts booked + non-expired locked <= capacity + buffer.
func checkInvariant(t *testing.T, db *memDB, now time.Time) {
	t.Helper()
	m, locks := db.state()
	total := int64(m.PlayerCapacity) + int64(m.BufferCapacity)
	used := int64(m.BookedSlots) + int64(ledger.LockedSlots(locks, now))
	if used > total {
		t.Fatalf("invariant violated: booked+locked=%d > capacity+buffer=%d", used, total)
	}
}

// reserveWithRetry mimics the reservation manager's loop: each attempt
// runs in a fresh transaction and a version conflict triggers a retry.
func reserveWithRetry(ctx context.Context, db *memDB, slots uint32, id string, ttl time.Duration, now time.Time) (ledger.Grant, error) {
	for attempt := 0; attempt < 20; attempt++ {
		g, err := ledger.Reserve(ctx, db.Begin(), 1, slots, id, ttl, now)
		if errors.Is(err, ledger.ErrVersionConflict) {
			continue
		}
		return g, err
	}
	return ledger.Grant{}, ledger.ErrVersionConflict
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	db := newMemDB(10, 0)

	before, _ := db.state()
	g, err := ledger.Reserve(ctx, db.Begin(), 1, 4, "res-1", 10*time.Minute, now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if g.NewVersion != before.Version+1 {
		t.Errorf("version = %d, want %d", g.NewVersion, before.Version+1)
	}
	if _, err := ledger.Release(ctx, db.Begin(), 1, "res-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	after, locks := db.state()
	if after.BookedSlots != before.BookedSlots {
		t.Errorf("booked = %d, want %d", after.BookedSlots, before.BookedSlots)
	}
	if got := ledger.LockedSlots(locks, now); got != 0 {
		t.Errorf("locked = %d, want 0", got)
	}
}

func TestConfirmMovesLockedToBooked(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	db := newMemDB(10, 0)

	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 3, "res-1", 10*time.Minute, now); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Confirm(ctx, db.Begin(), 1, "res-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	m, locks := db.state()
	if m.BookedSlots != 3 {
		t.Errorf("booked = %d, want 3", m.BookedSlots)
	}
	if len(locks) != 0 {
		t.Errorf("locks remaining = %d, want 0", len(locks))
	}

	// Returning the slots via a confirmed release restores the pool.
	if _, err := ledger.ReleaseConfirmed(ctx, db.Begin(), 1, 3); err != nil {
		t.Fatalf("release confirmed: %v", err)
	}
	m, _ = db.state()
	if m.BookedSlots != 0 {
		t.Errorf("booked after confirmed release = %d, want 0", m.BookedSlots)
	}
}

func TestCapacityChecks(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name     string
		capacity uint32
		buffer   uint32
		taken    uint32 // reserved beforehand
		request  uint32
		wantErr  error
	}{
		{"exact fill allowed", 10, 0, 6, 4, nil},
		{"one over capacity", 10, 0, 6, 5, ledger.ErrCapacityExceeded},
		{"buffer extends capacity", 10, 2, 10, 2, nil},
		{"buffer exhausted", 10, 2, 10, 3, ledger.ErrCapacityExceeded},
		{"zero free", 5, 0, 5, 1, ledger.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMemDB(tt.capacity, tt.buffer)
			if tt.taken > 0 {
				if _, err := ledger.Reserve(ctx, db.Begin(), 1, tt.taken, "pre", time.Hour, now); err != nil {
					t.Fatalf("pre-reserve: %v", err)
				}
			}
			_, err := ledger.Reserve(ctx, db.Begin(), 1, tt.request, "req", time.Hour, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("reserve err = %v, want %v", err, tt.wantErr)
			}
			checkInvariant(t, db, now)
		})
	}
}

func TestConcurrentReserveExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	db := newMemDB(10, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reserveWithRetry(ctx, db, 6, []string{"a", "b"}[i], time.Hour, now)
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Errorf("got %d grants and %d capacity rejections, want 1 and 1", ok, full)
	}
	checkInvariant(t, db, now)
	_, locks := db.state()
	if got := ledger.LockedSlots(locks, now); got != 6 {
		t.Errorf("locked = %d, want 6", got)
	}
}

func TestInvariantUnderConcurrentChurn(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	db := newMemDB(20, 2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			slots := uint32(1 + i%3)
			g, err := reserveWithRetry(ctx, db, slots, id, time.Hour, now)
			if err != nil {
				return // capacity rejection is a valid outcome
			}
			// Half confirm, half release, with conflict retries.
			for attempt := 0; attempt < 20; attempt++ {
				if i%2 == 0 {
					_, err = ledger.Confirm(ctx, db.Begin(), 1, g.ReservationID)
				} else {
					_, err = ledger.Release(ctx, db.Begin(), 1, g.ReservationID)
				}
				if !errors.Is(err, ledger.ErrVersionConflict) {
					break
				}
			}
			if err != nil {
				t.Errorf("finalize %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	checkInvariant(t, db, now)
}

func TestExpiredLockIsSweptAndReusable(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC()
	db := newMemDB(10, 0)

	// Fill the match with a 10-minute lock.
	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 10, "stale", 10*time.Minute, start); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 1, "blocked", time.Hour, start); !errors.Is(err, ledger.ErrCapacityExceeded) {
		t.Fatalf("reserve while full err = %v, want ErrCapacityExceeded", err)
	}

	// 11 minutes later the stale lock no longer counts and the next
	// reserve sweeps it as part of its own attempt.
	later := start.Add(11 * time.Minute)
	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 10, "fresh", time.Hour, later); err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	_, locks := db.state()
	if len(locks) != 1 || locks[0].ReservationID != "fresh" {
		t.Errorf("locks = %+v, want only the fresh lock", locks)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC()
	db := newMemDB(10, 0)

	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 2, "short", time.Minute, start); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Reserve(ctx, db.Begin(), 1, 2, "long", time.Hour, start); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	n, err := ledger.SweepExpired(ctx, db.Begin(), 1, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	// A sweep with nothing to do must not bump the version.
	before, _ := db.state()
	if _, err := ledger.SweepExpired(ctx, db.Begin(), 1, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("idle sweep: %v", err)
	}
	after, _ := db.state()
	if after.Version != before.Version {
		t.Errorf("idle sweep bumped version %d -> %d", before.Version, after.Version)
	}
}

func TestReleaseMissingLockIsNoop(t *testing.T) {
	ctx := context.Background()
	db := newMemDB(10, 0)
	if _, err := ledger.Release(ctx, db.Begin(), 1, "never-existed"); err != nil {
		t.Fatalf("release missing lock: %v", err)
	}
}
