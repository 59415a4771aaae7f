package rowvalue

import (
	"hash/maphash"
	"reflect"
	"sort"
	"strconv"
)

// deepEqualJSON compares two decoded-JSON values (map[string]any, []any,
// or a scalar) the way an opaque JSON column's equality works: structural
// equality, independent of map key iteration order.
func deepEqualJSON(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// hashAny hashes a decoded-JSON value with map keys visited in sorted
// order, so two structurally-equal values with different map iteration
// order still hash identically.
func hashAny(h *maphash.Hash, v any) {
	switch x := v.(type) {
	case nil:
		h.WriteByte(0)
	case bool:
		h.WriteByte(1)
		if x {
			h.WriteByte(1)
		} else {
			h.WriteByte(0)
		}
	case float64:
		h.WriteByte(2)
		h.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		h.WriteByte(3)
		h.WriteString(x)
	case []any:
		h.WriteByte(4)
		for _, e := range x {
			hashAny(h, e)
		}
	case map[string]any:
		h.WriteByte(5)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.WriteString(k)
			hashAny(h, x[k])
		}
	default:
		h.WriteByte(6)
	}
}
