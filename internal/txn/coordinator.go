// Package txn provides the transaction coordinator used by every code
// path that mutates bookings, slots, payment artifacts or match
// capacity. It guarantees that a transaction is committed exactly once
// on success and unconditionally rolled back on any error or panic, so
// no caller can leave a connection or a half-applied write behind.
package txn

import (
	"context"
	"database/sql"
	"fmt"
)

// Coordinator wraps a *sql.DB and scopes units of work to a single
// transaction.
type Coordinator struct {
	db *sql.DB
}

// NewCoordinator returns a Coordinator bound to the provided database.
func NewCoordinator(db *sql.DB) *Coordinator {
	if db == nil {
		panic("nil db passed to NewCoordinator")
	}
	return &Coordinator{db: db}
}

// DB exposes the underlying handle for read-only queries that do not
// need transactional scope.
func (c *Coordinator) DB() *sql.DB { return c.db }

// WithinTx runs fn inside a transaction. The transaction is committed
// when fn returns nil and rolled back on every other exit path,
// including panics, which are re-raised after rollback. Acquisition may
// block on the pool; the connection is released on every path.
func (c *Coordinator) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
