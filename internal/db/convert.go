package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dosco/livequery/internal/rowvalue"
)

// toRowValue converts one pgx-decoded column value into a rowvalue.Value.
// pgx already demarshals the wire format into native Go types per the
// column's type OID, so unlike the replication decoder (which has to
// re-derive types from raw bytes, see internal/replication/decoder.go)
// this switches on the Go type pgx handed back directly.
func toRowValue(v any, oid uint32) rowvalue.Value {
	if v == nil {
		return rowvalue.Null()
	}
	switch x := v.(type) {
	case bool:
		return rowvalue.Bool(x)
	case int16:
		return rowvalue.Int(int64(x))
	case int32:
		return rowvalue.Int(int64(x))
	case int64:
		return rowvalue.Int(x)
	case float32:
		return rowvalue.Float(float64(x))
	case float64:
		return rowvalue.Float(x)
	case string:
		if isJSONOID(oid) {
			if decoded, ok := tryUnmarshalJSON([]byte(x)); ok {
				return rowvalue.JSON(decoded)
			}
		}
		return rowvalue.String(x)
	case []byte:
		if isJSONOID(oid) {
			if decoded, ok := tryUnmarshalJSON(x); ok {
				return rowvalue.JSON(decoded)
			}
		}
		return rowvalue.Bytes(append([]byte(nil), x...))
	case time.Time:
		return rowvalue.String(x.Format(time.RFC3339Nano))
	case []bool:
		return arrayOf(x, func(e bool) rowvalue.Value { return rowvalue.Bool(e) })
	case []int16:
		return arrayOf(x, func(e int16) rowvalue.Value { return rowvalue.Int(int64(e)) })
	case []int32:
		return arrayOf(x, func(e int32) rowvalue.Value { return rowvalue.Int(int64(e)) })
	case []int64:
		return arrayOf(x, func(e int64) rowvalue.Value { return rowvalue.Int(e) })
	case []float32:
		return arrayOf(x, func(e float32) rowvalue.Value { return rowvalue.Float(float64(e)) })
	case []float64:
		return arrayOf(x, func(e float64) rowvalue.Value { return rowvalue.Float(e) })
	case []string:
		return arrayOf(x, func(e string) rowvalue.Value { return rowvalue.String(e) })
	case fmt.Stringer:
		return rowvalue.String(x.String())
	default:
		return rowvalue.String(fmt.Sprint(x))
	}
}

func isJSONOID(oid uint32) bool {
	return oid == oidJSON || oid == oidJSONB
}

func tryUnmarshalJSON(raw []byte) (any, bool) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func arrayOf[T any](xs []T, conv func(T) rowvalue.Value) rowvalue.Value {
	out := make([]rowvalue.Value, len(xs))
	for i, e := range xs {
		out[i] = conv(e)
	}
	return rowvalue.Array(out)
}
