package pgclient

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config describes one pool. All connection fields are required; there are
// no implicit defaults for them. It is copied at pool construction and
// never mutated afterwards.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string

	// MaxConns bounds the number of live connections, checked out and idle
	// combined.
	MaxConns int

	// IdleTimeout is how long a released connection may sit idle before it
	// is closed and removed from the pool.
	IdleTimeout time.Duration

	// Logger will be used by the pool for all its logging.
	// Default value is a no-op logger.
	Logger *slog.Logger

	// dial opens the underlying channel. Tests point it at a scripted
	// backend; the default dials the real server via pgconn.
	dial func(ctx context.Context, connString string) (*pgconn.PgConn, error)
}

func defaultDial(ctx context.Context, connString string) (*pgconn.PgConn, error) {
	return errtrace.Wrap2(pgconn.Connect(ctx, connString))
}

func (c Config) validate() error {
	switch {
	case c.User == "":
		return errtrace.New("pgclient: config: User is required")
	case c.Password == "":
		return errtrace.New("pgclient: config: Password is required")
	case c.Host == "":
		return errtrace.New("pgclient: config: Host is required")
	case c.Port < 1 || c.Port > 65535:
		return errtrace.Errorf("pgclient: config: Port %d out of range", c.Port)
	case c.Database == "":
		return errtrace.New("pgclient: config: Database is required")
	case c.MaxConns < 1:
		return errtrace.Errorf("pgclient: config: MaxConns must be at least 1, got %d", c.MaxConns)
	case c.IdleTimeout <= 0:
		return errtrace.Errorf("pgclient: config: IdleTimeout must be positive, got %s", c.IdleTimeout)
	}
	return nil
}

// connString renders the keyword/value form understood by pgconn.
func (c Config) connString() string {
	var b strings.Builder
	kv := func(key, value string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteString("='")
		value = strings.ReplaceAll(value, `\`, `\\`)
		value = strings.ReplaceAll(value, `'`, `\'`)
		b.WriteString(value)
		b.WriteByte('\'')
	}
	kv("host", c.Host)
	kv("port", strconv.Itoa(c.Port))
	kv("user", c.User)
	kv("password", c.Password)
	kv("dbname", c.Database)
	// Transport security is delegated to the surrounding network; this
	// core always speaks cleartext.
	kv("sslmode", "disable")
	return b.String()
}
