package pgclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"braces.dev/errtrace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool manages a bounded set of reusable connections. It is an explicitly
// constructed, explicitly closed handle; there is no process-wide singleton.
type Pool struct {
	cfg Config
	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Conn
	closed bool

	reaper     *errgroup.Group
	stopReaper context.CancelFunc
}

// NewPool validates cfg and returns a ready pool. Connections are dialed
// lazily, on the first Acquire that finds no idle one.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(NoopHandler{})
	}
	cfg.Logger = cfg.Logger.WithGroup("pgclient")
	if cfg.dial == nil {
		cfg.dial = defaultDial
	}

	p := &Pool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConns)),
	}

	reaperCtx, cancelFn := context.WithCancel(context.WithoutCancel(ctx))
	reaperCtx = contextWithLogger(reaperCtx, cfg.Logger)
	p.stopReaper = cancelFn
	p.reaper, reaperCtx = errgroup.WithContext(reaperCtx)
	p.reaper.Go(func() error {
		return errtrace.Wrap(p.reapLoop(reaperCtx))
	})

	return p, nil
}

// Acquire checks a connection out, blocking while MaxConns are in use. The
// most recently released idle connection is reused; otherwise a new one is
// dialed. Dial failures surface as a *ConnectionError and are not retried.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errtrace.Wrap(&ConnectionError{Err: ErrPoolClosed})
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errtrace.Wrap(&ConnectionError{Err: err})
	}

	p.mu.Lock()
	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if conn.pg.IsClosed() {
			continue
		}
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	ctx = contextWithLogger(ctx, p.cfg.Logger)
	pg, err := p.cfg.dial(ctx, p.cfg.connString())
	if err != nil {
		p.sem.Release(1)
		return nil, errtrace.Wrap(&ConnectionError{Err: err})
	}
	logDebug(ctx, "dialed new connection", slog.String("host", p.cfg.Host))
	return &Conn{pg: pg, pool: p}, nil
}

// Release checks a connection back in and starts its idle timer. A
// connection returned with a transaction still open is rolled back first;
// an open transaction leaking to the next borrower would be a correctness
// bug. Broken connections are closed instead of pooled.
func (p *Pool) Release(conn *Conn) {
	if conn == nil || conn.pool != p {
		return
	}
	defer p.sem.Release(1)

	ctx := contextWithLogger(context.Background(), p.cfg.Logger)

	if conn.txActive {
		logDebug(ctx, "rolling back abandoned transaction")
		if _, err := conn.roundTrip(ctx, "ROLLBACK", nil); err != nil {
			logError(ctx, errtrace.Errorf("rollback on release: %w", err))
			conn.destroy(ctx)
			return
		}
		conn.txActive = false
	}

	if conn.pg.IsClosed() {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.destroy(ctx)
		return
	}
	conn.idleSince = time.Now()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// WithConn acquires, invokes fn, and releases on every exit path,
// panics included.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer p.Release(conn)
	return errtrace.Wrap(fn(conn))
}

// Close rejects further acquires, waits for checked-out connections to be
// released, and closes everything.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stopReaper()
	if err := p.reaper.Wait(); err != nil {
		logError(contextWithLogger(ctx, p.cfg.Logger), errtrace.Errorf("idle reaper: %w", err))
	}

	if err := p.sem.Acquire(ctx, int64(p.cfg.MaxConns)); err != nil {
		return errtrace.Wrap(&ConnectionError{Err: err})
	}
	defer p.sem.Release(int64(p.cfg.MaxConns))

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs error
	for _, conn := range idle {
		errs = errors.Join(errs, conn.pg.Close(ctx))
	}
	return errtrace.Wrap(errs)
}

func (p *Pool) reapLoop(ctx context.Context) error {
	interval := p.cfg.IdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.reapIdle(ctx)
		}
	}
}

func (p *Pool) reapIdle(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	kept := p.idle[:0]
	var expired []*Conn
	for _, conn := range p.idle {
		if now.Sub(conn.idleSince) >= p.cfg.IdleTimeout {
			expired = append(expired, conn)
		} else {
			kept = append(kept, conn)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, conn := range expired {
		logDebug(ctx, "closing idle connection", slog.Duration("idle", now.Sub(conn.idleSince)))
		conn.destroy(ctx)
	}
}
