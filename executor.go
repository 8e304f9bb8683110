package pgclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	"github.com/jackc/pgx/v5"
)

// Exec runs a statement that produces no result set (INSERT, UPDATE,
// DELETE, DDL) and returns the number of rows affected.
func Exec(ctx context.Context, conn *Conn, sql string, args ...any) (int64, error) {
	res, err := conn.roundTrip(ctx, sql, args)
	if err != nil {
		return 0, errtrace.Wrap(err)
	}
	return res.tag.RowsAffected(), nil
}

// Row2 and Row3 are fixed-arity tuples; the caller's instantiation is the
// row shape contract, checked against the result description at decode
// time rather than coerced.
type Row2[A, B any] struct {
	A A
	B B
}

type Row3[A, B, C any] struct {
	A A
	B B
	C C
}

// Query1 runs a SELECT expected to return single-column rows. Rows come
// back in server order; callers needing determinism must ORDER BY.
func Query1[A any](ctx context.Context, conn *Conn, sql string, args ...any) ([]A, error) {
	res, err := conn.roundTrip(ctx, sql, args)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := checkArity(res, 1); err != nil {
		return nil, errtrace.Wrap(err)
	}
	out := make([]A, 0, len(res.rows))
	for _, raw := range res.rows {
		var a A
		if err := decodeValue(res.fields[0], raw[0], &a); err != nil {
			return nil, errtrace.Wrap(err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Query2 runs a SELECT expected to return two-column rows.
func Query2[A, B any](ctx context.Context, conn *Conn, sql string, args ...any) ([]Row2[A, B], error) {
	res, err := conn.roundTrip(ctx, sql, args)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := checkArity(res, 2); err != nil {
		return nil, errtrace.Wrap(err)
	}
	out := make([]Row2[A, B], 0, len(res.rows))
	for _, raw := range res.rows {
		var row Row2[A, B]
		if err := decodeValue(res.fields[0], raw[0], &row.A); err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := decodeValue(res.fields[1], raw[1], &row.B); err != nil {
			return nil, errtrace.Wrap(err)
		}
		out = append(out, row)
	}
	return out, nil
}

// Query3 runs a SELECT expected to return three-column rows.
func Query3[A, B, C any](ctx context.Context, conn *Conn, sql string, args ...any) ([]Row3[A, B, C], error) {
	res, err := conn.roundTrip(ctx, sql, args)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := checkArity(res, 3); err != nil {
		return nil, errtrace.Wrap(err)
	}
	out := make([]Row3[A, B, C], 0, len(res.rows))
	for _, raw := range res.rows {
		var row Row3[A, B, C]
		if err := decodeValue(res.fields[0], raw[0], &row.A); err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := decodeValue(res.fields[1], raw[1], &row.B); err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := decodeValue(res.fields[2], raw[2], &row.C); err != nil {
			return nil, errtrace.Wrap(err)
		}
		out = append(out, row)
	}
	return out, nil
}

// Scalar runs a query expected to return at most one row of one column.
// ok is false when there is no row; more than one row or column is a
// *CardinalityError.
func Scalar[A any](ctx context.Context, conn *Conn, sql string, args ...any) (value A, ok bool, err error) {
	var zero A
	res, err := conn.roundTrip(ctx, sql, args)
	if err != nil {
		return zero, false, errtrace.Wrap(err)
	}
	if len(res.rows) == 0 {
		return zero, false, nil
	}
	if len(res.rows) > 1 || len(res.fields) > 1 {
		return zero, false, errtrace.Wrap(&CardinalityError{Rows: len(res.rows), Columns: len(res.fields)})
	}
	var a A
	if err := decodeValue(res.fields[0], res.rows[0][0], &a); err != nil {
		return zero, false, errtrace.Wrap(err)
	}
	return a, true, nil
}

// InsertAll inserts all rows with a single multi-VALUES statement: one
// round trip, one atomic statement. A constraint violation on any tuple
// fails the whole insert.
func InsertAll(ctx context.Context, conn *Conn, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, errtrace.New("pgclient: InsertAll needs at least one column")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, errtrace.Errorf("pgclient: InsertAll row %d has %d values, want %d", i, len(row), len(columns))
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	for i, column := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{column}.Sanitize())
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	placeholder := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(placeholder))
			placeholder++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	return errtrace.Wrap2(Exec(ctx, conn, b.String(), args...))
}

func checkArity(res *result, want int) error {
	if len(res.fields) != want {
		return &DecodeError{
			Expected: columns(want),
			Actual:   columns(len(res.fields)),
		}
	}
	return nil
}

func columns(n int) string {
	if n == 1 {
		return "1 column"
	}
	return fmt.Sprintf("%d columns", n)
}
