// Package whereeval implements the three-valued WHERE predicate evaluator
// used by the change dispatcher to decide whether a touched row could
// possibly affect a subscribed query's result.
package whereeval

import (
	"math"
	"strconv"

	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/rowvalue"
)

// Result is the outcome of evaluating a WhereFilter against a row.
type Result uint8

const (
	Match Result = iota
	NoMatch
	Unknown
)

// Eval evaluates filter against row. A column the extracted filter
// references but that is absent from row (e.g. a replica-identity
// restricted replication payload) is always Unknown: the row may simply
// have been shaped differently than the query's projection.
func Eval(filter queryanalysis.WhereFilter, row *rowvalue.Row) Result {
	switch filter.Kind {
	case queryanalysis.FilterNone:
		return Match
	case queryanalysis.FilterComplex:
		return Unknown
	case queryanalysis.FilterEq:
		return evalEquality(row, filter, true)
	case queryanalysis.FilterNe:
		return evalEquality(row, filter, false)
	case queryanalysis.FilterGt, queryanalysis.FilterGte, queryanalysis.FilterLt, queryanalysis.FilterLte:
		return evalOrder(row, filter)
	case queryanalysis.FilterIn:
		return evalIn(row, filter)
	case queryanalysis.FilterIsNull:
		return evalIsNull(row, filter.Column, true)
	case queryanalysis.FilterIsNotNull:
		return evalIsNull(row, filter.Column, false)
	case queryanalysis.FilterAnd:
		return evalAnd(row, filter.Children)
	case queryanalysis.FilterOr:
		return evalOr(row, filter.Children)
	default:
		return Unknown
	}
}

func evalAnd(row *rowvalue.Row, children []queryanalysis.WhereFilter) Result {
	sawUnknown := false
	for _, c := range children {
		switch Eval(c, row) {
		case NoMatch:
			return NoMatch
		case Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return Match
}

func evalOr(row *rowvalue.Row, children []queryanalysis.WhereFilter) Result {
	sawUnknown := false
	for _, c := range children {
		switch Eval(c, row) {
		case Match:
			return Match
		case Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return NoMatch
}

func evalIsNull(row *rowvalue.Row, col string, wantNull bool) Result {
	v, ok := row.Get(col)
	if !ok {
		return Unknown
	}
	isNull := v.Kind == rowvalue.KindNull
	if isNull == wantNull {
		return Match
	}
	return NoMatch
}

func evalEquality(row *rowvalue.Row, filter queryanalysis.WhereFilter, wantEqual bool) Result {
	v, ok := row.Get(filter.Column)
	if !ok {
		return Unknown
	}
	if v.Kind == rowvalue.KindNull || filter.Value.Kind == queryanalysis.ValNull {
		// SQL's three-valued logic: both `x = NULL` and `x <> NULL` are
		// not-true, so Eq and Ne collapse to the same NoMatch here.
		return NoMatch
	}
	eq, ok := valuesEqual(v, filter.Value)
	if !ok {
		return Unknown
	}
	if eq == wantEqual {
		return Match
	}
	return NoMatch
}

func evalOrder(row *rowvalue.Row, filter queryanalysis.WhereFilter) Result {
	v, ok := row.Get(filter.Column)
	if !ok {
		return Unknown
	}
	cmp, ok := compareOrder(v, filter.Value)
	if !ok {
		return Unknown
	}
	var match bool
	switch filter.Kind {
	case queryanalysis.FilterGt:
		match = cmp > 0
	case queryanalysis.FilterGte:
		match = cmp >= 0
	case queryanalysis.FilterLt:
		match = cmp < 0
	case queryanalysis.FilterLte:
		match = cmp <= 0
	}
	if match {
		return Match
	}
	return NoMatch
}

func evalIn(row *rowvalue.Row, filter queryanalysis.WhereFilter) Result {
	v, ok := row.Get(filter.Column)
	if !ok {
		return Unknown
	}
	sawUnknown := false
	for _, candidate := range filter.Values {
		eq, ok := valuesEqual(v, candidate)
		if !ok {
			sawUnknown = true
			continue
		}
		if eq {
			return Match
		}
	}
	if sawUnknown {
		return Unknown
	}
	return NoMatch
}

// valuesEqual reports whether v equals fv under numeric/string coercion.
// ok is false when the combination of types leaves equality undefined
// (e.g. comparing a row's JSON value against a scalar literal).
func valuesEqual(v rowvalue.Value, fv queryanalysis.FilterValue) (eq bool, ok bool) {
	if v.Kind == rowvalue.KindNull || fv.Kind == queryanalysis.ValNull {
		// SQL's own three-valued logic already treats `x = NULL` as
		// not-true, so the row fails this leaf -- a sound NoMatch.
		return false, true
	}
	switch v.Kind {
	case rowvalue.KindBool:
		if fv.Kind != queryanalysis.ValBool {
			return false, false
		}
		return v.Bool == fv.Bool, true
	case rowvalue.KindInt:
		switch fv.Kind {
		case queryanalysis.ValInt:
			return v.Int == fv.Int, true
		case queryanalysis.ValFloat:
			return float64(v.Int) == fv.Float, true
		case queryanalysis.ValStr:
			n, err := strconv.ParseInt(fv.Str, 10, 64)
			if err != nil {
				return false, false
			}
			return v.Int == n, true
		default:
			return false, false
		}
	case rowvalue.KindFloat:
		if math.IsNaN(v.Float) {
			return false, false
		}
		switch fv.Kind {
		case queryanalysis.ValInt:
			return v.Float == float64(fv.Int), true
		case queryanalysis.ValFloat:
			if math.IsNaN(fv.Float) {
				return false, false
			}
			return v.Float == fv.Float, true
		default:
			return false, false
		}
	case rowvalue.KindString:
		switch fv.Kind {
		case queryanalysis.ValStr:
			return v.Str == fv.Str, true
		case queryanalysis.ValInt:
			n, err := strconv.ParseInt(v.Str, 10, 64)
			if err != nil {
				return false, false
			}
			return n == fv.Int, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

// compareOrder returns the sign of v - fv under the same coercions as
// valuesEqual, except that mixed numeric/string ordering is always
// undefined.
func compareOrder(v rowvalue.Value, fv queryanalysis.FilterValue) (sign int, ok bool) {
	switch v.Kind {
	case rowvalue.KindInt:
		switch fv.Kind {
		case queryanalysis.ValInt:
			return compareInt64(v.Int, fv.Int), true
		case queryanalysis.ValFloat:
			return compareFloat64(float64(v.Int), fv.Float)
		default:
			return 0, false
		}
	case rowvalue.KindFloat:
		switch fv.Kind {
		case queryanalysis.ValInt:
			return compareFloat64(v.Float, float64(fv.Int))
		case queryanalysis.ValFloat:
			return compareFloat64(v.Float, fv.Float)
		default:
			return 0, false
		}
	case rowvalue.KindString:
		if fv.Kind != queryanalysis.ValStr {
			return 0, false
		}
		return compareString(v.Str, fv.Str), true
	default:
		return 0, false
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) (int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
