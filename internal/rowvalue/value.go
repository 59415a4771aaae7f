// Package rowvalue implements the columnar value representation shared by
// the query analyzer, the WHERE evaluator, the replication decoder and the
// snapshot diff engine.
package rowvalue

import (
	"encoding/hex"
	"hash/maphash"
	"math"
	"sync"
)

// internMaxLen bounds which strings are worth sharing through the process
// intern table; longer strings are allocated per occurrence.
const internMaxLen = 32

var internTable sync.Map // string -> string

// intern returns a shared copy of s when s is short enough to be worth
// sharing, idempotently inserting it into the process-wide table.
func intern(s string) string {
	if len(s) > internMaxLen {
		return s
	}
	if v, ok := internTable.Load(s); ok {
		return v.(string)
	}
	// Last-writer-wins is fine: any two inserts of the same key produce an
	// equal value, so a lost race never observes a different string.
	actual, _ := internTable.LoadOrStore(s, s)
	return actual.(string)
}

// Kind tags which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindJSON
	KindArray
)

// Value is the tagged union a row column may carry. Only the field matching
// Kind is meaningful; the zero Value is KindNull.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string // interned when short, see intern()
	Bytes []byte
	JSON  any // decoded JSON (object/array/scalar) for opaque JSON columns
	Array []Value
}

func Null() Value           { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b} }
func JSON(v any) Value       { return Value{Kind: KindJSON, JSON: v} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }

// String returns a Value carrying s, interning it when short.
func String(s string) Value {
	return Value{Kind: KindString, Str: intern(s)}
}

// Equal reports byte-identity of the variant payload. Floats compare
// bitwise, so NaN != NaN here (this is identity, not IEEE equality).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return math.Float64bits(v.Float) == math.Float64bits(o.Float)
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	case KindJSON:
		return equalAny(v.JSON, o.JSON)
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// hashInto feeds the value's discriminated payload into h. The discriminant
// byte keeps distinct kinds from colliding on coincidentally-equal bit
// patterns (e.g. Int(0) vs Bool(false)).
func (v Value) hashInto(h *maphash.Hash) {
	switch v.Kind {
	case KindNull:
		h.WriteByte(0)
	case KindBool:
		h.WriteByte(1)
		if v.Bool {
			h.WriteByte(1)
		} else {
			h.WriteByte(0)
		}
	case KindInt:
		h.WriteByte(2)
		writeUint64(h, uint64(v.Int))
	case KindFloat:
		h.WriteByte(3)
		writeUint64(h, math.Float64bits(v.Float))
	case KindString:
		h.WriteByte(4)
		h.WriteString(v.Str)
	case KindBytes:
		h.WriteByte(5)
		h.Write(v.Bytes)
	case KindJSON:
		h.WriteByte(6)
		hashAny(h, v.JSON)
	case KindArray:
		h.WriteByte(7)
		for _, e := range v.Array {
			e.hashInto(h)
		}
	}
}

func writeUint64(h *maphash.Hash, n uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	h.Write(b[:])
}

// ToJSON renders the value the way the wire format (GLOSSARY "Row object")
// requires: bytes as "\xHEX", non-finite floats as null, everything else
// its natural JSON shape.
func (v Value) ToJSON() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	case KindString:
		return v.Str
	case KindBytes:
		return `\x` + hex.EncodeToString(v.Bytes)
	case KindJSON:
		return v.JSON
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToJSON()
		}
		return out
	}
	return nil
}

func equalAny(a, b any) bool {
	// serde_json-equivalent deep equality over decoded JSON values
	// (map[string]any / []any / scalars); reflect.DeepEqual is exact for
	// this shape because encoding/json always produces these concrete types.
	return deepEqualJSON(a, b)
}
