// Package txn runs a unit of work inside one driver transaction.
//
// Run commits when the work succeeds and rolls back when it returns an
// error or panics. The error returned by the work is passed through
// unchanged; rollback failures are logged rather than merged into it.
// Work started on a driver that already is a transaction joins it.
package txn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syssam/nestwrite/dialect"
)

// Committer is the interface that wraps the Commit method.
type Committer interface {
	Commit(context.Context, dialect.Tx) error
}

// CommitFunc is an adapter to allow the use of ordinary function as Committer.
type CommitFunc func(context.Context, dialect.Tx) error

// Commit calls f(ctx, tx).
func (f CommitFunc) Commit(ctx context.Context, tx dialect.Tx) error { return f(ctx, tx) }

// CommitHook defines the "commit middleware". A function that gets a Committer
// and returns a Committer. For example:
//
//	hook := func(next txn.Committer) txn.Committer {
//	    return txn.CommitFunc(func(ctx context.Context, tx dialect.Tx) error {
//	        // Do something before.
//	        if err := next.Commit(ctx, tx); err != nil {
//	            return err
//	        }
//	        // Do something after.
//	        return nil
//	    })
//	}
type CommitHook func(Committer) Committer

// Rollbacker is the interface that wraps the Rollback method.
type Rollbacker interface {
	Rollback(context.Context, dialect.Tx) error
}

// RollbackFunc is an adapter to allow the use of ordinary function as Rollbacker.
type RollbackFunc func(context.Context, dialect.Tx) error

// Rollback calls f(ctx, tx).
func (f RollbackFunc) Rollback(ctx context.Context, tx dialect.Tx) error { return f(ctx, tx) }

// RollbackHook defines the "rollback middleware", see CommitHook.
type RollbackHook func(Rollbacker) Rollbacker

type config struct {
	logger     *slog.Logger
	onCommit   []CommitHook
	onRollback []RollbackHook
}

// Option configures Run.
type Option func(*config)

// WithLogger sets the logger rollback failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// OnCommit adds a hook to call on commit.
func OnCommit(hooks ...CommitHook) Option {
	return func(c *config) { c.onCommit = append(c.onCommit, hooks...) }
}

// OnRollback adds a hook to call on rollback.
func OnRollback(hooks ...RollbackHook) Option {
	return func(c *config) { c.onRollback = append(c.onRollback, hooks...) }
}

// Run calls fn inside a transaction of drv.
func Run[T any](ctx context.Context, drv dialect.Driver, fn func(dialect.Tx) (T, error), opts ...Option) (T, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if tx, ok := drv.(dialect.Tx); ok {
		return fn(dialect.NopTx(tx))
	}
	var zero T
	tx, err := drv.Tx(ctx)
	if err != nil {
		return zero, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		if v := recover(); v != nil {
			cfg.rollback(ctx, tx)
			panic(v)
		}
	}()
	v, err := fn(tx)
	if err != nil {
		cfg.rollback(ctx, tx)
		return zero, err
	}
	if err := cfg.commit(ctx, tx); err != nil {
		return zero, fmt.Errorf("committing transaction: %w", err)
	}
	return v, nil
}

func (c *config) commit(ctx context.Context, tx dialect.Tx) error {
	var fn Committer = CommitFunc(func(context.Context, dialect.Tx) error {
		return tx.Commit()
	})
	for i := len(c.onCommit) - 1; i >= 0; i-- {
		fn = c.onCommit[i](fn)
	}
	return fn.Commit(ctx, tx)
}

func (c *config) rollback(ctx context.Context, tx dialect.Tx) {
	var fn Rollbacker = RollbackFunc(func(context.Context, dialect.Tx) error {
		return tx.Rollback()
	})
	for i := len(c.onRollback) - 1; i >= 0; i-- {
		fn = c.onRollback[i](fn)
	}
	if err := fn.Rollback(ctx, tx); err != nil {
		c.logger.WarnContext(ctx, "rolling back transaction", "error", err)
	}
}
