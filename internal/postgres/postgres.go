// Package postgres wraps a pgxpool connection pool with bounded
// acquisition and a small error taxonomy.
//
// All operations go through an explicit acquire step that waits at most
// Config.AcquireTimeout for a free connection, so a saturated pool
// surfaces as ErrPoolExhausted instead of queueing callers without
// bound. Every acquired connection is released on every path, including
// scan errors and abandoned result sets.
//
// pgvector codecs are registered on each new physical connection via
// AfterConnect, so vector columns scan directly into pgvector.Vector.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Pool tuning beyond Config: connections are recycled after
// MaxConnLifetime, idle ones reaped after MaxConnIdleTime.
const (
	maxConnLifetime   = 30 * time.Minute
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = 1 * time.Minute
	pingTimeout       = 5 * time.Second

	// DefaultAcquireTimeout bounds the wait for a pooled connection
	// when Config.AcquireTimeout is zero.
	DefaultAcquireTimeout = 5 * time.Second
)

// Config holds the connection settings for New.
type Config struct {
	// DSN in key=value or URL form, as accepted by pgxpool.ParseConfig.
	DSN string

	MaxConns int32
	MinConns int32

	// AcquireTimeout is the maximum wait for a free connection before
	// an operation fails with ErrPoolExhausted.
	AcquireTimeout time.Duration

	// StatementTimeout is applied server-side to every statement.
	// Zero leaves the server default in place.
	StatementTimeout time.Duration
}

// DB is a connection pool handle.
//
// DB is safe for concurrent use by multiple goroutines.
type DB struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// New creates a connection pool and verifies the database is reachable
// with a bounded ping. The pool registers pgvector types on every new
// physical connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = maxConnLifetime
	poolCfg.MaxConnIdleTime = maxConnIdleTime
	poolCfg.HealthCheckPeriod = healthCheckPeriod

	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pool: %w", ErrConnection, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging database: %w", ErrConnection, err)
	}

	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	logger.Debug("database pool ready",
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
		"acquire_timeout", acquireTimeout)

	return &DB{pool: pool, acquireTimeout: acquireTimeout, logger: logger}, nil
}

// Acquire returns a connection from the pool, waiting at most the
// configured acquire timeout. A saturated pool returns ErrPoolExhausted
// while the caller's context is still live; the caller must Release
// the connection.
func (db *DB) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()

	conn, err := db.pool.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no connection within %s: %w",
				ErrPoolExhausted, db.acquireTimeout, err)
		}
		return nil, classify(err)
	}
	return conn, nil
}

// Exec runs a statement and returns the number of affected rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// Query runs a statement and returns the result set. The connection is
// held until rows.Close(), so callers must always close, typically with
// defer. Iteration errors from rows.Err() carry the package taxonomy.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rs, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Release()
		return nil, classify(err)
	}
	return &rows{Rows: rs, conn: conn}, nil
}

// QueryRow runs a statement expected to return at most one row. The
// error is reported by Scan on the returned row; a missing row is
// pgx.ErrNoRows, untouched by the taxonomy.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &row{row: conn.QueryRow(ctx, sql, args...), conn: conn}
}

// Begin starts a transaction on a dedicated connection. The connection
// is returned to the pool by Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, classify(err)
	}
	return &Tx{tx: tx, conn: conn}, nil
}

// CopyFrom bulk-loads rows with the PostgreSQL COPY protocol and
// returns the number of rows copied.
func (db *DB) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	n, err := conn.CopyFrom(ctx, tableName, columnNames, rowSrc)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Stat reports pool occupancy.
func (db *DB) Stat() *pgxpool.Stat {
	return db.pool.Stat()
}

// Close shuts the pool down, waiting for checked-out connections to be
// released.
func (db *DB) Close() {
	db.pool.Close()
}

// rows holds the pooled connection for the life of the result set and
// releases it exactly once on Close.
type rows struct {
	pgx.Rows
	conn     *pgxpool.Conn
	released bool
}

func (r *rows) Close() {
	r.Rows.Close()
	if !r.released {
		r.released = true
		r.conn.Release()
	}
}

func (r *rows) Err() error {
	return classify(r.Rows.Err())
}

// row defers connection release to Scan, which every pgx.Row caller
// must invoke.
type row struct {
	row  pgx.Row
	conn *pgxpool.Conn
}

func (r *row) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.conn.Release()
	return classify(err)
}

// errRow carries an acquisition failure to the Scan call site.
type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}

// Tx is a transaction bound to one pooled connection. Statement errors
// carry the same taxonomy as DB operations.
type Tx struct {
	tx   pgx.Tx
	conn *pgxpool.Conn
	done bool
}

// Exec runs a statement inside the transaction and returns the number
// of affected rows.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// Query runs a statement inside the transaction.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rs, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	return txRows{Rows: rs}, nil
}

// QueryRow runs a single-row statement inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return txRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

// Commit commits the transaction and releases its connection.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	err := t.tx.Commit(ctx)
	t.conn.Release()
	if err != nil {
		return classify(err)
	}
	return nil
}

// Rollback aborts the transaction and releases its connection. After
// Commit it returns pgx.ErrTxClosed, so a deferred Rollback is safe.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	err := t.tx.Rollback(ctx)
	t.conn.Release()
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify(err)
	}
	return nil
}

type txRows struct {
	pgx.Rows
}

func (r txRows) Err() error {
	return classify(r.Rows.Err())
}

type txRow struct {
	row pgx.Row
}

func (r txRow) Scan(dest ...any) error {
	return classify(r.row.Scan(dest...))
}
