package pgclient

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

const (
	// ErrPoolClosed is returned (wrapped in a *ConnectionError) by Acquire
	// after the pool has been closed.
	ErrPoolClosed constError = "pool is closed"

	// ErrTransactionActive is returned when a transaction scope is opened on
	// a connection that already has one. PostgreSQL has no nested BEGIN and
	// this client does not emulate savepoints.
	ErrTransactionActive constError = "transaction already active on this connection"

	errConcurrentUse constError = "connection used concurrently by two operations"
)

// ConnectionError reports a failure to obtain or use a network channel:
// an unreachable server, a closed or exhausted pool, a broken connection.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "pgclient: connection: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError reports a mismatch between the shape or type a caller
// declared and what was actually decoded, including invalid calendar
// dates rejected at construction.
type DecodeError struct {
	Expected string
	Actual   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pgclient: decode: expected %s, got %s", e.Expected, e.Actual)
}

// CardinalityError reports a scalar query that returned more than one row
// or more than one column.
type CardinalityError struct {
	Rows    int
	Columns int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("pgclient: scalar query returned %d row(s) and %d column(s), want at most 1 of each", e.Rows, e.Columns)
}

// SQLError is a server-reported error (constraint violation, syntax error,
// ...) passed through verbatim. The underlying *pgconn.PgError is reachable
// with errors.As for code and detail inspection.
type SQLError struct {
	*pgconn.PgError
}

func (e *SQLError) Unwrap() error {
	return e.PgError
}

// wireError classifies an error coming back from a round trip: server
// errors become *SQLError, everything else (network failures, context
// cancellation) is a *ConnectionError keeping the cause unwrappable.
func wireError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &SQLError{PgError: pgErr}
	}
	return &ConnectionError{Err: err}
}
