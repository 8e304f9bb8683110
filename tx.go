package pgclient

import (
	"context"

	"braces.dev/errtrace"
)

// A transaction scope moves through idle -> active -> committed or
// rolledBack, both terminal. The terminal statement is sent exactly once,
// also when the body panics or its context is cancelled.
type txStatus uint8

const (
	txIdle txStatus = iota
	txActive
	txCommitted
	txRolledBack
)

type txScope struct {
	conn   *Conn
	status txStatus
}

func beginScope(ctx context.Context, conn *Conn) (*txScope, error) {
	if conn.txActive {
		return nil, errtrace.Wrap(ErrTransactionActive)
	}
	if _, err := conn.roundTrip(ctx, "BEGIN", nil); err != nil {
		return nil, errtrace.Wrap(err)
	}
	conn.txActive = true
	return &txScope{conn: conn, status: txActive}, nil
}

// finish sends the terminal statement once. The rollback path runs on a
// context stripped of cancellation: a cancelled task must still roll back
// before its connection goes back to the pool.
func (s *txScope) finish(ctx context.Context, terminal txStatus) error {
	if s.status != txActive {
		return nil
	}
	s.status = terminal

	stmt := "COMMIT"
	if terminal == txRolledBack {
		stmt = "ROLLBACK"
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.conn.roundTrip(ctx, stmt, nil); err != nil {
		// The connection keeps its open transaction; Release will retry the
		// rollback or destroy the connection.
		return errtrace.Wrap(err)
	}
	s.conn.txActive = false
	return nil
}

// WithTransaction runs body inside BEGIN/COMMIT, rolling back and
// returning body's error if it fails. A rollback failure never hides the
// original error: both are reported, the original as cause.
func WithTransaction(ctx context.Context, conn *Conn, body func(ctx context.Context) error) error {
	scope, err := beginScope(ctx, conn)
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer func() {
		// Reached on panic: the terminal statement must still go out.
		_ = scope.finish(ctx, txRolledBack)
	}()

	if err := body(ctx); err != nil {
		if rollbackErr := scope.finish(ctx, txRolledBack); rollbackErr != nil {
			return errtrace.Errorf("rollback failed: %w (caused by: %w)", rollbackErr, err)
		}
		return errtrace.Wrap(err)
	}

	return errtrace.Wrap(scope.finish(ctx, txCommitted))
}

// WithRollback runs action inside a transaction that is always rolled
// back, whatever the outcome. This is the test-isolation policy - nothing
// inside ever persists - and is deliberately a separate entry point from
// the commit-unless-failed semantics of WithTransaction.
func WithRollback(ctx context.Context, conn *Conn, action func(ctx context.Context) error) error {
	scope, err := beginScope(ctx, conn)
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer func() {
		_ = scope.finish(ctx, txRolledBack)
	}()

	if err := action(ctx); err != nil {
		if rollbackErr := scope.finish(ctx, txRolledBack); rollbackErr != nil {
			return errtrace.Errorf("rollback failed: %w (caused by: %w)", rollbackErr, err)
		}
		return errtrace.Wrap(err)
	}

	return errtrace.Wrap(scope.finish(ctx, txRolledBack))
}
