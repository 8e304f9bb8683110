package pgclient

import (
	"context"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is one authenticated channel, owned by whoever checked it out of the
// pool. It is not safe for concurrent use: the busy flag turns a sharing
// bug into an explicit error instead of interleaved protocol traffic.
type Conn struct {
	pg   *pgconn.PgConn
	pool *Pool

	busy      atomic.Bool
	txActive  bool
	idleSince time.Time
}

// result is one decoded wire round trip: the row description, the raw
// text-format rows in server order, and the command tag.
type result struct {
	fields []pgconn.FieldDescription
	rows   [][][]byte
	tag    pgconn.CommandTag
}

// roundTrip sends a single statement with positional text-format
// parameters and drains the reply before returning, so statements issued
// sequentially on one Conn execute strictly in that order.
func (c *Conn) roundTrip(ctx context.Context, sql string, args []any) (*result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, errtrace.Wrap(&ConnectionError{Err: errConcurrentUse})
	}
	defer c.busy.Store(false)

	var (
		values = make([][]byte, len(args))
		oids   = make([]uint32, len(args))
	)
	for i, arg := range args {
		value, oid, err := encodeParam(arg)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		values[i] = value
		oids[i] = oid
	}

	// Explicit OIDs and text format both ways; no statement preparation.
	reader := c.pg.ExecParams(ctx, sql, values, oids, nil, nil)
	res := reader.Read()
	if res.Err != nil {
		return nil, errtrace.Wrap(wireError(res.Err))
	}
	return &result{
		fields: res.FieldDescriptions,
		rows:   res.Rows,
		tag:    res.CommandTag,
	}, nil
}

func (c *Conn) destroy(ctx context.Context) {
	err := c.pg.Close(ctx)
	if err != nil {
		logError(ctx, errtrace.Errorf("closing connection: %w", err))
	}
}
