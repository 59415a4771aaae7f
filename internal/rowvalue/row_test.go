package rowvalue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowGetSmallRow(t *testing.T) {
	cols := []string{"id", "name"}
	r := NewRow(cols, []Value{Int(1), String("A")})

	v, ok := r.Get("name")
	require.True(t, ok)
	assert.Equal(t, "A", v.Str)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRowGetWideRowBuildsIndexLazily(t *testing.T) {
	cols := make([]string, 0, 10)
	vals := make([]Value, 0, 10)
	for i := 0; i < 10; i++ {
		cols = append(cols, string(rune('a'+i)))
		vals = append(vals, Int(int64(i)))
	}
	r := NewRow(cols, vals)

	v, ok := r.Get("c")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Int)

	// second call exercises the cached index path
	v, ok = r.Get("j")
	require.True(t, ok)
	assert.Equal(t, int64(9), v.Int)
}

func TestHashContentOrderSensitive(t *testing.T) {
	r1 := NewRow([]string{"a", "b"}, []Value{Int(1), Int(2)})
	r2 := NewRow([]string{"a", "b"}, []Value{Int(2), Int(1)})
	assert.NotEqual(t, r1.HashContent(), r2.HashContent())
}

func TestHashIdentityFallsBackToContent(t *testing.T) {
	r := NewRow([]string{"id", "name"}, []Value{Int(1), String("A")})
	assert.Equal(t, r.HashContent(), r.HashIdentity(nil))
}

func TestHashIdentityUsesOnlyNamedColumns(t *testing.T) {
	r1 := NewRow([]string{"id", "name"}, []Value{Int(1), String("A")})
	r2 := NewRow([]string{"id", "name"}, []Value{Int(1), String("B")})
	assert.Equal(t, r1.HashIdentity([]string{"id"}), r2.HashIdentity([]string{"id"}))
	assert.NotEqual(t, r1.HashContent(), r2.HashContent())
}

func TestToJSONEncodesBytesAndNonFiniteFloats(t *testing.T) {
	r := NewRow([]string{"b", "f"}, []Value{Bytes([]byte{0xDE, 0xAD}), Float(math.NaN())})
	m := r.ToJSON()
	assert.Equal(t, `\xdead`, m["b"])
	assert.Nil(t, m["f"])
}

func TestValueEqualBitwiseFloat(t *testing.T) {
	a := Float(0)
	b := Float(math.Copysign(0, -1))
	assert.False(t, a.Equal(b), "positive and negative zero differ bitwise")
}

func TestInternSharesShortStrings(t *testing.T) {
	a := String("short")
	b := String("short")
	assert.True(t, a.Equal(b))
}
