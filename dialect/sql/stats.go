package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Stats counts the statements a StatsDriver ran, by verb.
type Stats struct {
	Selects   atomic.Int64
	Inserts   atomic.Int64
	Updates   atomic.Int64
	Deletes   atomic.Int64
	Other     atomic.Int64
	Commits   atomic.Int64
	Rollbacks atomic.Int64
	Slow      atomic.Int64
	Failed    atomic.Int64
	busy      atomic.Int64 // nanoseconds
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Selects, Inserts, Updates, Deletes, Other int64
	Commits, Rollbacks, Slow, Failed          int64
	Busy                                      time.Duration
}

// Statements returns the number of statements of any verb.
func (s StatsSnapshot) Statements() int64 {
	return s.Selects + s.Inserts + s.Updates + s.Deletes + s.Other
}

// Writes returns the number of statements changing rows.
func (s StatsSnapshot) Writes() int64 {
	return s.Inserts + s.Updates + s.Deletes
}

func (s StatsSnapshot) String() string {
	var avg time.Duration
	if n := s.Statements(); n > 0 {
		avg = s.Busy / time.Duration(n)
	}
	return fmt.Sprintf("selects=%d inserts=%d updates=%d deletes=%d commits=%d rollbacks=%d slow=%d failed=%d avg=%s",
		s.Selects, s.Inserts, s.Updates, s.Deletes, s.Commits, s.Rollbacks, s.Slow, s.Failed, avg)
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Selects:   s.Selects.Load(),
		Inserts:   s.Inserts.Load(),
		Updates:   s.Updates.Load(),
		Deletes:   s.Deletes.Load(),
		Other:     s.Other.Load(),
		Commits:   s.Commits.Load(),
		Rollbacks: s.Rollbacks.Load(),
		Slow:      s.Slow.Load(),
		Failed:    s.Failed.Load(),
		Busy:      time.Duration(s.busy.Load()),
	}
}

// Reset sets every counter back to zero.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Int64{
		&s.Selects, &s.Inserts, &s.Updates, &s.Deletes, &s.Other,
		&s.Commits, &s.Rollbacks, &s.Slow, &s.Failed, &s.busy,
	} {
		c.Store(0)
	}
}

func (s *Stats) verb(query string) *atomic.Int64 {
	verb, _, _ := strings.Cut(strings.TrimSpace(query), " ")
	switch strings.ToUpper(verb) {
	case "SELECT":
		return &s.Selects
	case "INSERT":
		return &s.Inserts
	case "UPDATE":
		return &s.Updates
	case "DELETE":
		return &s.Deletes
	}
	return &s.Other
}

// SlowQueryHook is called with every statement running longer than the
// slow threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver is a Backend counting the statements of a store.
type StatsDriver struct {
	Backend
	stats    *Stats
	slow     atomic.Int64 // threshold in nanoseconds
	slowHook SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// Defaults to 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slow.Store(int64(d))
	}
}

// WithSlowQueryHook sets the hook called on slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog warns about slow statements on logger.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		logger.WarnContext(ctx, "slow statement", "duration", duration, "sql", query, "args", args)
	})
}

// NewStatsDriver wraps b with statement counters.
//
//	sd := sql.NewStatsDriver(drv, sql.WithSlowQueryLog(logger))
//	store := sqlgraph.NewStore(graph, sd)
//	...
//	logger.Info("synced", "stats", sd.Stats().Snapshot())
func NewStatsDriver(b Backend, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Backend: b, stats: &Stats{}}
	s.slow.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters of the driver and its transactions.
func (d *StatsDriver) Stats() *Stats {
	return d.stats
}

// SlowThreshold returns the current slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.slow.Load())
}

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.slow.Store(int64(threshold))
}

// Query implements ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args ...any) (rows *Rows, err error) {
	done := d.observe(ctx, query, args, time.Now())
	defer func() { done(err) }()
	return d.Backend.Query(ctx, query, args...)
}

// Exec implements ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args ...any) (res Result, err error) {
	done := d.observe(ctx, query, args, time.Now())
	defer func() { done(err) }()
	return d.Backend.Exec(ctx, query, args...)
}

// observe counts a statement started at start. The returned function is
// called with the statement error once it completes.
func (d *StatsDriver) observe(ctx context.Context, query string, args []any, start time.Time) func(error) {
	return func(err error) {
		took := time.Since(start)
		d.stats.verb(query).Add(1)
		d.stats.busy.Add(int64(took))
		if err != nil {
			d.stats.Failed.Add(1)
		}
		if took > d.SlowThreshold() {
			d.stats.Slow.Add(1)
			if d.slowHook != nil {
				d.slowHook(ctx, query, args, took)
			}
		}
	}
}

// Tx starts a transaction counted with the driver.
func (d *StatsDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Backend.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx is a transaction of a StatsDriver.
type StatsTx struct {
	Tx
	driver *StatsDriver
}

// Query implements ExecQuerier.
func (tx *StatsTx) Query(ctx context.Context, query string, args ...any) (rows *Rows, err error) {
	done := tx.driver.observe(ctx, query, args, time.Now())
	defer func() { done(err) }()
	return tx.Tx.Query(ctx, query, args...)
}

// Exec implements ExecQuerier.
func (tx *StatsTx) Exec(ctx context.Context, query string, args ...any) (res Result, err error) {
	done := tx.driver.observe(ctx, query, args, time.Now())
	defer func() { done(err) }()
	return tx.Tx.Exec(ctx, query, args...)
}

// Commit commits the transaction and counts it.
func (tx *StatsTx) Commit() error {
	tx.driver.stats.Commits.Add(1)
	return tx.Tx.Commit()
}

// Rollback rolls the transaction back and counts it.
func (tx *StatsTx) Rollback() error {
	tx.driver.stats.Rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver is a Backend logging every statement at debug level.
type DebugDriver struct {
	Backend
	logger *slog.Logger
}

// NewDebugDriver wraps b with statement logging. A nil logger logs to
// slog.Default().
func NewDebugDriver(b Backend, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Backend: b, logger: logger}
}

// Query implements ExecQuerier.
func (d *DebugDriver) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	d.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Backend.Query(ctx, query, args...)
}

// Exec implements ExecQuerier.
func (d *DebugDriver) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	d.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Backend.Exec(ctx, query, args...)
}

// Tx starts a transaction whose statements are logged too.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	d.logger.DebugContext(ctx, "begin transaction")
	tx, err := d.Backend.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, logger: d.logger.With("tx", true)}, nil
}

// DebugTx is a transaction of a DebugDriver.
type DebugTx struct {
	Tx
	logger *slog.Logger
}

// Query implements ExecQuerier.
func (tx *DebugTx) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	tx.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args...)
}

// Exec implements ExecQuerier.
func (tx *DebugTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tx.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args...)
}

func (tx *DebugTx) Commit() error {
	tx.logger.Debug("commit transaction")
	return tx.Tx.Commit()
}

func (tx *DebugTx) Rollback() error {
	tx.logger.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ Backend = (*StatsDriver)(nil)
	_ Tx      = (*StatsTx)(nil)
	_ Backend = (*DebugDriver)(nil)
	_ Tx      = (*DebugTx)(nil)
)
