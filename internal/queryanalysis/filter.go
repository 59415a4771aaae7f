// Package queryanalysis parses subscribed SQL, extracts the tables it
// touches and a tractable WHERE predicate, and caches the result by
// fingerprint so repeat subscriptions to the same query text skip parsing.
package queryanalysis

// FilterKind tags a WhereFilter node.
type FilterKind uint8

const (
	FilterNone FilterKind = iota
	FilterComplex
	FilterEq
	FilterNe
	FilterGt
	FilterGte
	FilterLt
	FilterLte
	FilterIn
	FilterIsNull
	FilterIsNotNull
	FilterAnd
	FilterOr
)

// ValueKind tags which field of a FilterValue is meaningful.
type ValueKind uint8

const (
	ValNull ValueKind = iota
	ValBool
	ValInt
	ValFloat
	ValStr
)

// FilterValue is a recognized WHERE literal: null, boolean, 64-bit
// integer, 64-bit float, or string; unary minus already folded in.
type FilterValue struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

func NullValue() FilterValue       { return FilterValue{Kind: ValNull} }
func BoolValue(b bool) FilterValue { return FilterValue{Kind: ValBool, Bool: b} }
func IntValue(i int64) FilterValue { return FilterValue{Kind: ValInt, Int: i} }
func FloatValue(f float64) FilterValue { return FilterValue{Kind: ValFloat, Float: f} }
func StrValue(s string) FilterValue    { return FilterValue{Kind: ValStr, Str: s} }

// WhereFilter is the tagged tree produced by WHERE extraction. Only the
// fields relevant to Kind are meaningful.
type WhereFilter struct {
	Kind     FilterKind
	Column   string
	Value    FilterValue
	Values   []FilterValue // FilterIn
	Children []WhereFilter // FilterAnd / FilterOr
}

func None() WhereFilter    { return WhereFilter{Kind: FilterNone} }
func Complex() WhereFilter { return WhereFilter{Kind: FilterComplex} }

func cmpFilter(kind FilterKind, col string, val FilterValue) WhereFilter {
	return WhereFilter{Kind: kind, Column: col, Value: val}
}

func inFilter(col string, vals []FilterValue) WhereFilter {
	return WhereFilter{Kind: FilterIn, Column: col, Values: vals}
}

func nullFilter(kind FilterKind, col string) WhereFilter {
	return WhereFilter{Kind: kind, Column: col}
}

// flattenAnd combines two filters that are both conjuncts of an AND,
// concatenating children instead of nesting. A Complex child poisons
// the whole node.
func flattenAnd(children ...WhereFilter) WhereFilter {
	var flat []WhereFilter
	for _, c := range children {
		if c.Kind == FilterComplex {
			return Complex()
		}
		if c.Kind == FilterNone {
			continue
		}
		if c.Kind == FilterAnd {
			flat = append(flat, c.Children...)
		} else {
			flat = append(flat, c)
		}
	}
	if len(flat) == 0 {
		return None()
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return WhereFilter{Kind: FilterAnd, Children: flat}
}

// flattenOr combines two OR operands. Any Complex child poisons the whole
// node, since a disjunction with an unknown branch cannot be pre-filtered.
func flattenOr(children ...WhereFilter) WhereFilter {
	var flat []WhereFilter
	for _, c := range children {
		if c.Kind == FilterComplex {
			return Complex()
		}
		if c.Kind == FilterOr {
			flat = append(flat, c.Children...)
		} else {
			flat = append(flat, c)
		}
	}
	if len(flat) == 0 {
		return None()
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return WhereFilter{Kind: FilterOr, Children: flat}
}
