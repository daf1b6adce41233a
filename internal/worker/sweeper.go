// Package worker runs the periodic maintenance jobs: sweeping expired
// slot locks back into available capacity and expiring bookings whose
// payment never arrived.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/techdoodle/match-slot-booking/internal/booking"
	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/repository"
	"github.com/techdoodle/match-slot-booking/internal/txn"
)

// Sweeper owns the scheduler and the two maintenance jobs. Lock
// expiry is also handled lazily inside every reserve; the periodic
// sweep keeps capacity accurate on matches nobody is booking.
type Sweeper struct {
	co      *txn.Coordinator
	matches *repository.MatchRepo
	manager *booking.Manager

	interval   time.Duration
	staleAfter time.Duration
	batchLimit int

	scheduler gocron.Scheduler
}

// NewSweeper builds the sweeper. interval controls how often both jobs
// run; staleAfter is the age at which an unpaid booking is expired.
func NewSweeper(co *txn.Coordinator, matches *repository.MatchRepo, manager *booking.Manager,
	interval, staleAfter time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		co:         co,
		matches:    matches,
		manager:    manager,
		interval:   interval,
		staleAfter: staleAfter,
		batchLimit: 100,
		scheduler:  sched,
	}, nil
}

// Start registers the jobs and launches the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.sweepLocks(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.expireStale(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// sweepLocks removes expired reservation locks match by match. Each
// match sweeps in its own transaction so one conflicted match does not
// hold up the rest; a version conflict just means a concurrent reserve
// already swept, so it is skipped rather than retried.
func (s *Sweeper) sweepLocks(ctx context.Context) {
	now := time.Now().UTC()
	ids, err := s.matches.ListMatchIDsWithExpiredLocks(ctx, now)
	if err != nil {
		log.Printf("sweeper: list matches with expired locks: %v", err)
		return
	}
	swept := 0
	for _, matchID := range ids {
		var removed int
		err := s.co.WithinTx(ctx, func(tx *sql.Tx) error {
			var err error
			removed, err = ledger.SweepExpired(ctx, s.matches.WithTx(tx), matchID, now)
			return err
		})
		if errors.Is(err, ledger.ErrVersionConflict) {
			continue
		}
		if err != nil {
			log.Printf("sweeper: match %d: %v", matchID, err)
			continue
		}
		swept += removed
	}
	if swept > 0 {
		log.Printf("sweeper: released %d expired slot locks across %d matches", swept, len(ids))
	}
}

// expireStale times out bookings stuck in a pre-payment state.
func (s *Sweeper) expireStale(ctx context.Context) {
	n, err := s.manager.ExpireStalePending(ctx, s.staleAfter, s.batchLimit)
	if err != nil {
		log.Printf("sweeper: expire stale bookings: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweeper: expired %d stale pending bookings", n)
	}
}
