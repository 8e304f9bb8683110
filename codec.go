package pgclient

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// The codec layer converts host values to and from the PostgreSQL text
// format. Decimals never go through a float: the wire text is handed to
// shopspring/decimal verbatim, so decode(encode(d)) is exact for every
// representable value.

const timestamptzEncodeLayout = "2006-01-02 15:04:05.999999-07:00"

// timestamptzDecodeLayouts covers the offset renderings the server uses in
// text format, plus the zoneless form for plain timestamp columns. A column
// declared without sub-second scale stores a truncated value; decoding
// reflects what is stored, never the sub-second input the caller sent.
var timestamptzDecodeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07:00:00",
	"2006-01-02 15:04:05.999999999",
}

// FloorSecond truncates an instant to whole seconds. Callers comparing
// before/after instants against second-resolution columns should floor
// both sides rather than expect exact equality.
func FloorSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// encodeParam renders one statement parameter in text format together with
// its type OID. nil encodes as SQL NULL.
func encodeParam(v any) ([]byte, uint32, error) {
	switch v := v.(type) {
	case nil:
		return nil, 0, nil
	case bool:
		if v {
			return []byte("t"), pgtype.BoolOID, nil
		}
		return []byte("f"), pgtype.BoolOID, nil
	case string:
		return []byte(v), pgtype.TextOID, nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), pgtype.Int8OID, nil
	case int64:
		return strconv.AppendInt(nil, v, 10), pgtype.Int8OID, nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), pgtype.Float8OID, nil
	case decimal.Decimal:
		return []byte(v.String()), pgtype.NumericOID, nil
	case Date:
		return []byte(v.String()), pgtype.DateOID, nil
	case time.Time:
		return []byte(v.UTC().Format(timestamptzEncodeLayout)), pgtype.TimestamptzOID, nil
	case []byte:
		return []byte(`\x` + hex.EncodeToString(v)), pgtype.ByteaOID, nil
	default:
		return nil, 0, errtrace.Errorf("pgclient: cannot encode parameter of type %T", v)
	}
}

// decodeValue decodes one text-format column value into the pointer dst.
// NULL is only decodable into a pointer-typed target.
func decodeValue(fd pgconn.FieldDescription, raw []byte, dst any) error {
	if raw == nil {
		return errtrace.Wrap(decodeNull(fd, dst))
	}

	switch d := dst.(type) {
	case *bool:
		return errtrace.Wrap(decodeBool(fd, raw, d))
	case **bool:
		var v bool
		if err := decodeBool(fd, raw, &v); err != nil {
			return errtrace.Wrap(err)
		}
		*d = &v
	case *string:
		*d = string(raw)
	case **string:
		v := string(raw)
		*d = &v
	case *int64:
		return errtrace.Wrap(decodeInt(fd, raw, d))
	case **int64:
		var v int64
		if err := decodeInt(fd, raw, &v); err != nil {
			return errtrace.Wrap(err)
		}
		*d = &v
	case *int:
		var v int64
		if err := decodeInt(fd, raw, &v); err != nil {
			return errtrace.Wrap(err)
		}
		*d = int(v)
	case *float64:
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return errtrace.Wrap(typeMismatch(fd, "float", raw))
		}
		*d = v
	case *decimal.Decimal:
		return errtrace.Wrap(decodeDecimal(fd, raw, d))
	case **decimal.Decimal:
		var v decimal.Decimal
		if err := decodeDecimal(fd, raw, &v); err != nil {
			return errtrace.Wrap(err)
		}
		*d = &v
	case *Date:
		v, err := ParseDate(string(raw))
		if err != nil {
			return errtrace.Wrap(err)
		}
		*d = v
	case **Date:
		v, err := ParseDate(string(raw))
		if err != nil {
			return errtrace.Wrap(err)
		}
		*d = &v
	case *time.Time:
		return errtrace.Wrap(decodeInstant(fd, raw, d))
	case **time.Time:
		var v time.Time
		if err := decodeInstant(fd, raw, &v); err != nil {
			return errtrace.Wrap(err)
		}
		*d = &v
	case *[]byte:
		return errtrace.Wrap(decodeBytea(fd, raw, d))
	default:
		return errtrace.Wrap(&DecodeError{
			Expected: "supported scan target",
			Actual:   fmt.Sprintf("%T for column %q", dst, fd.Name),
		})
	}
	return nil
}

func decodeNull(fd pgconn.FieldDescription, dst any) error {
	switch d := dst.(type) {
	case **bool:
		*d = nil
	case **string:
		*d = nil
	case **int64:
		*d = nil
	case **decimal.Decimal:
		*d = nil
	case **Date:
		*d = nil
	case **time.Time:
		*d = nil
	case *[]byte:
		*d = nil
	default:
		return &DecodeError{
			Expected: fmt.Sprintf("non-NULL value for %T", dst),
			Actual:   fmt.Sprintf("NULL in column %q", fd.Name),
		}
	}
	return nil
}

func decodeBool(fd pgconn.FieldDescription, raw []byte, dst *bool) error {
	switch string(raw) {
	case "t", "true":
		*dst = true
	case "f", "false":
		*dst = false
	default:
		return typeMismatch(fd, "bool", raw)
	}
	return nil
}

func decodeInt(fd pgconn.FieldDescription, raw []byte, dst *int64) error {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return typeMismatch(fd, "integer", raw)
	}
	*dst = v
	return nil
}

func decodeDecimal(fd pgconn.FieldDescription, raw []byte, dst *decimal.Decimal) error {
	v, err := decimal.NewFromString(string(raw))
	if err != nil {
		return typeMismatch(fd, "decimal", raw)
	}
	*dst = v
	return nil
}

func decodeInstant(fd pgconn.FieldDescription, raw []byte, dst *time.Time) error {
	s := string(raw)
	for _, layout := range timestamptzDecodeLayouts {
		v, err := time.Parse(layout, s)
		if err == nil {
			*dst = v
			return nil
		}
	}
	return typeMismatch(fd, "timestamp", raw)
}

func decodeBytea(fd pgconn.FieldDescription, raw []byte, dst *[]byte) error {
	s := string(raw)
	if !strings.HasPrefix(s, `\x`) {
		return typeMismatch(fd, "bytea", raw)
	}
	v, err := hex.DecodeString(s[2:])
	if err != nil {
		return typeMismatch(fd, "bytea", raw)
	}
	*dst = v
	return nil
}

func typeMismatch(fd pgconn.FieldDescription, want string, raw []byte) error {
	return &DecodeError{
		Expected: want,
		Actual:   fmt.Sprintf("%q in column %q", raw, fd.Name),
	}
}
