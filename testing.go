package pgclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kamirus/go-pgclient/internal/pgmock"
)

// NewTestingPool starts a scripted pgmock backend and returns a pool
// dialing into it, both torn down with t.Cleanup. The returned server can
// be asked which statements arrived, in order.
func NewTestingPool(t testing.TB, script pgmock.Script, options ...func(cfg *Config)) (*Pool, *pgmock.Server) {
	t.Helper()

	server, err := pgmock.New(script)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	cfg := Config{
		User:        "user",
		Password:    "password",
		Host:        server.Host(),
		Port:        server.Port(),
		Database:    "db",
		MaxConns:    2,
		IdleTimeout: time.Minute,
	}
	for _, option := range options {
		option(&cfg)
	}

	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pool.Close(context.Background())) })

	return pool, server
}
