package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/syssam/nestwrite/dialect"
)

// ExecQuerier wraps the Exec and Query methods used by the graph store.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
}

// Tx is an ExecQuerier bound to a database transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// Backend is a database connection able to start transactions.
type Backend interface {
	ExecQuerier
	Tx(ctx context.Context) (Tx, error)
	Dialect() string
	Close() error
}

// stdExecQuerier is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type stdExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Driver is a Backend over a database/sql connection pool.
type Driver struct {
	Conn
	db *sql.DB
}

// NewDriver returns a Driver using the given dialect and database.
func NewDriver(dialect string, db *sql.DB) *Driver {
	return &Driver{Conn: Conn{db, dialect}, db: db}
}

// Open opens a database of the given dialect. The sqlite3 dialect is served
// by the pure Go driver registered as "sqlite".
func Open(dialect, source string) (*Driver, error) {
	db, err := sql.Open(DriverName(dialect), source)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect, db), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(dialect string, db *sql.DB) *Driver {
	return NewDriver(dialect, db)
}

// DriverName returns the database/sql driver name serving a dialect.
func DriverName(d string) string {
	if d == dialect.SQLite {
		return "sqlite"
	}
	return d
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Dialect returns the dialect name.
func (d *Driver) Dialect() string {
	// Driver names of wrapped drivers carry the dialect as prefix.
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &TxConn{Conn: Conn{tx, d.dialect}, tx: tx}, nil
}

// Close closes the underlying connection pool.
func (d *Driver) Close() error { return d.db.Close() }

// TxConn is a Tx over a database/sql transaction.
type TxConn struct {
	Conn
	tx *sql.Tx
}

// Commit commits the transaction.
func (tx *TxConn) Commit() error { return tx.tx.Commit() }

// Rollback aborts the transaction.
func (tx *TxConn) Rollback() error { return tx.tx.Rollback() }

// Conn implements ExecQuerier over a database/sql handle.
type Conn struct {
	stdExecQuerier
	dialect string
}

// Exec executes a statement that returns no rows.
func (c Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return res, nil
}

// Query executes a query that returns rows.
func (c Conn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return &Rows{rows}, nil
}

var (
	_ Backend = (*Driver)(nil)
	_ Tx      = (*TxConn)(nil)
)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...any) error
}
