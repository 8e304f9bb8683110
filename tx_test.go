package pgclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithTransactionCommits(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	err := pool.WithConn(ctx, func(conn *Conn) error {
		return WithTransaction(ctx, conn, func(ctx context.Context) error {
			_, err := Exec(ctx, conn, "INSERT INTO foods (name) VALUES ($1)", "pork")
			return err
		})
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"BEGIN",
		"INSERT INTO foods (name) VALUES ($1)",
		"COMMIT",
	}, server.Queries())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	failure := errors.New("boom")
	err := pool.WithConn(ctx, func(conn *Conn) error {
		return WithTransaction(ctx, conn, func(ctx context.Context) error {
			if _, err := Exec(ctx, conn, "INSERT INTO foods (name) VALUES ($1)", "pork"); err != nil {
				return err
			}
			return failure
		})
	})
	require.ErrorIs(t, err, failure)

	require.Equal(t, []string{
		"BEGIN",
		"INSERT INTO foods (name) VALUES ($1)",
		"ROLLBACK",
	}, server.Queries())
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = pool.WithConn(ctx, func(conn *Conn) error {
			return WithTransaction(ctx, conn, func(_ context.Context) error {
				panic("boom")
			})
		})
	})

	require.Equal(t, []string{"BEGIN", "ROLLBACK"}, server.Queries())
}

func TestWithTransactionRollsBackWhenCancelled(t *testing.T) {
	pool, server := NewTestingPool(t, nil)

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(conn)

	err = WithTransaction(ctx, conn, func(ctx context.Context) error {
		cancelFn()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	// The rollback runs on a cancellation-stripped context: it must reach
	// the server even though the task's own context is gone.
	require.Equal(t, []string{"BEGIN", "ROLLBACK"}, server.Queries())
	require.False(t, conn.txActive)
}

func TestWithTransactionRejectsNesting(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	err := pool.WithConn(ctx, func(conn *Conn) error {
		return WithTransaction(ctx, conn, func(ctx context.Context) error {
			return WithTransaction(ctx, conn, func(_ context.Context) error {
				t.Fatal("nested body must not run")
				return nil
			})
		})
	})
	require.ErrorIs(t, err, ErrTransactionActive)

	// The outer scope rolls back; only one BEGIN ever reaches the wire.
	require.Equal(t, []string{"BEGIN", "ROLLBACK"}, server.Queries())
}

func TestWithRollbackAlwaysRollsBack(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	err := pool.WithConn(ctx, func(conn *Conn) error {
		return WithRollback(ctx, conn, func(ctx context.Context) error {
			_, err := Exec(ctx, conn, "INSERT INTO foods (name) VALUES ($1)", "sauerkraut")
			return err
		})
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"BEGIN",
		"INSERT INTO foods (name) VALUES ($1)",
		"ROLLBACK",
	}, server.Queries())
}

func TestWithRollbackRollsBackOnErrorExactlyOnce(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	failure := errors.New("boom")
	err := pool.WithConn(ctx, func(conn *Conn) error {
		return WithRollback(ctx, conn, func(_ context.Context) error {
			return failure
		})
	})
	require.ErrorIs(t, err, failure)

	rollbacks := 0
	for _, query := range server.Queries() {
		if query == "ROLLBACK" {
			rollbacks++
		}
	}
	require.Equal(t, 1, rollbacks)
}
