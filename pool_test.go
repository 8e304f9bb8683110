package pgclient

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kamirus/go-pgclient/internal/pgmock"
)

func newTestLogger(_ *testing.T) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})

	return slog.New(handler)
}

func withMaxConns(n int) func(cfg *Config) {
	return func(cfg *Config) { cfg.MaxConns = n }
}

func withIdleTimeout(d time.Duration) func(cfg *Config) {
	return func(cfg *Config) { cfg.IdleTimeout = d }
}

func TestPoolReusesReleasedConnection(t *testing.T) {
	pool, server := NewTestingPool(t, nil)
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(conn)

	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(again)

	require.Equal(t, int64(1), server.Dials())
}

func TestPoolBlocksAtMaxConns(t *testing.T) {
	pool, _ := NewTestingPool(t, nil, withMaxConns(1))
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancelFn := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelFn()
	_, err = pool.Acquire(waitCtx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)

	pool.Release(conn)
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(again)
}

func TestPoolReapsIdleConnections(t *testing.T) {
	pool, server := NewTestingPool(t, nil, withMaxConns(1), withIdleTimeout(20*time.Millisecond))
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(conn)
	require.Equal(t, int64(1), server.Dials())

	time.Sleep(150 * time.Millisecond)

	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(again)
	require.Equal(t, int64(2), server.Dials())
}

func TestWithConnReleasesOnError(t *testing.T) {
	pool, _ := NewTestingPool(t, nil, withMaxConns(1))
	ctx := context.Background()

	failure := errors.New("boom")
	err := pool.WithConn(ctx, func(_ *Conn) error { return failure })
	require.ErrorIs(t, err, failure)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(conn)
}

func TestWithConnReleasesOnPanic(t *testing.T) {
	pool, _ := NewTestingPool(t, nil, withMaxConns(1))
	ctx := context.Background()

	require.Panics(t, func() {
		_ = pool.WithConn(ctx, func(_ *Conn) error { panic("boom") })
	})

	acquireCtx, cancelFn := context.WithTimeout(ctx, time.Second)
	defer cancelFn()
	conn, err := pool.Acquire(acquireCtx)
	require.NoError(t, err)
	pool.Release(conn)
}

func TestReleaseRollsBackAbandonedTransaction(t *testing.T) {
	pool, server := NewTestingPool(t, nil, withMaxConns(1))
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = Exec(ctx, conn, "BEGIN")
	require.NoError(t, err)
	conn.txActive = true

	pool.Release(conn)

	queries := server.Queries()
	require.Equal(t, []string{"BEGIN", "ROLLBACK"}, queries)

	// The rolled-back connection is reusable, not destroyed.
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(again)
	require.Equal(t, int64(1), server.Dials())
}

func TestAcquireAfterCloseFails(t *testing.T) {
	pool, _ := NewTestingPool(t, nil)
	ctx := context.Background()

	require.NoError(t, pool.Close(ctx))

	_, err := pool.Acquire(ctx)
	require.ErrorIs(t, err, ErrPoolClosed)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestAcquireDialFailureReleasesCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.MaxConns = 1
	dialErr := errors.New("connection refused")
	cfg.dial = func(_ context.Context, _ string) (*pgconn.PgConn, error) {
		return nil, dialErr
	}

	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pool.Close(context.Background())) })

	// A failed dial must hand its capacity back; a leaked permit would
	// turn the second attempt into a deadline error.
	for i := 0; i < 2; i++ {
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		_, err := pool.Acquire(ctx)
		cancelFn()
		require.ErrorIs(t, err, dialErr)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
	}
}

func TestPoolConcurrentScalars(t *testing.T) {
	script := pgmock.Script{}
	for i := 0; i < 10; i++ {
		script["SELECT "+strconv.Itoa(i)] = pgmock.Result{
			Columns: []pgmock.Column{{Name: "n", OID: 20}},
			Rows:    [][]*string{{pgmock.Text(strconv.Itoa(i))}},
		}
	}
	pool, _ := NewTestingPool(t, script, withMaxConns(3))
	ctx := context.Background()

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		i := i
		eg.Go(func() error {
			return pool.WithConn(ctx, func(conn *Conn) error {
				got, ok, err := Scalar[int64](ctx, conn, "SELECT "+strconv.Itoa(i))
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, int64(i), got)
				return nil
			})
		})
	}
	require.NoError(t, eg.Wait())
}
