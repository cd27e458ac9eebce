package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

// Sentinel errors for database operations. Callers check these with
// errors.Is(); the original driver error is wrapped alongside so the
// cause is never lost.
//
// Example:
//
//	_, err := db.Exec(ctx, sql, args...)
//	if errors.Is(err, postgres.ErrConstraint) {
//	    // Handle duplicate / FK violation
//	}
var (
	// ErrConnection indicates the database was unreachable or the
	// connection was lost mid-operation.
	ErrConnection = errors.New("database connection failed")

	// ErrQuery indicates the statement itself was rejected (syntax,
	// unknown column, type mismatch).
	ErrQuery = errors.New("query failed")

	// ErrConstraint indicates an integrity constraint violation
	// (unique, foreign key, check).
	ErrConstraint = errors.New("constraint violation")

	// ErrPoolExhausted indicates no connection became available within
	// the acquire timeout while the caller's context was still live.
	ErrPoolExhausted = errors.New("connection pool exhausted")
)

// classify maps a driver error onto the package's sentinel taxonomy.
// pgx.ErrNoRows and context errors pass through untouched: callers map
// those to their own domain errors (not-found, cancellation).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%w: %w", ErrConnection, err)
		default:
			// Syntax errors, undefined columns, datatype mismatches
			// and the rest of the server-side rejections.
			return fmt.Errorf("%w: %w", ErrQuery, err)
		}
	}

	// Errors without a SQLSTATE are transport-level: dial failures,
	// resets, closed pool.
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, puddle.ErrClosedPool) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return fmt.Errorf("%w: %w", ErrQuery, err)
}
