package queryanalysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSimpleEquality(t *testing.T) {
	a := analyze("SELECT * FROM users WHERE status = 'active'")
	require.True(t, a.Valid)
	assert.Equal(t, []string{"users"}, a.Tables)
	assert.True(t, a.IsSimple)
	require.Equal(t, FilterEq, a.Filter.Kind)
	assert.Equal(t, "status", a.Filter.Column)
	assert.Equal(t, "active", a.Filter.Value.Str)
}

func TestAnalyzeComparisonOperandOrderFlips(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE 18 < age")
	require.True(t, a.Valid)
	require.Equal(t, FilterGt, a.Filter.Kind)
	assert.Equal(t, "age", a.Filter.Column)
	assert.Equal(t, int64(18), a.Filter.Value.Int)
}

func TestAnalyzeAndFlattensNestedConjuncts(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE a = 1 AND b = 2 AND c = 3")
	require.True(t, a.Valid)
	require.Equal(t, FilterAnd, a.Filter.Kind)
	assert.Len(t, a.Filter.Children, 3)
}

func TestAnalyzeOrWithComplexChildPoisonsNode(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE a = 1 OR b IN (SELECT x FROM y)")
	require.True(t, a.Valid)
	assert.Equal(t, FilterComplex, a.Filter.Kind)
}

func TestAnalyzeJoinSetsHasJoinAndNotSimple(t *testing.T) {
	a := analyze("SELECT * FROM a JOIN b ON a.id = b.a_id WHERE a.x = 1")
	require.True(t, a.Valid)
	assert.ElementsMatch(t, []string{"a", "b"}, a.Tables)
	assert.False(t, a.IsSimple)
}

func TestAnalyzeSubqueryInFromSetsHasSubq(t *testing.T) {
	a := analyze("SELECT * FROM (SELECT * FROM orders) AS o")
	require.True(t, a.Valid)
	assert.False(t, a.IsSimple)
}

func TestAnalyzeNoWhereIsNone(t *testing.T) {
	a := analyze("SELECT * FROM users")
	require.True(t, a.Valid)
	assert.Equal(t, FilterNone, a.Filter.Kind)
	assert.True(t, a.IsSimple)
}

func TestAnalyzeUnrecognizedOperatorIsComplex(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE name LIKE 'a%'")
	require.True(t, a.Valid)
	assert.Equal(t, FilterComplex, a.Filter.Kind)
	assert.False(t, a.IsSimple)
}

func TestAnalyzeInListOfLiterals(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE status IN ('a', 'b', 'c')")
	require.True(t, a.Valid)
	require.Equal(t, FilterIn, a.Filter.Kind)
	assert.Equal(t, "status", a.Filter.Column)
	assert.Len(t, a.Filter.Values, 3)
}

func TestAnalyzeIsNull(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE deleted_at IS NULL")
	require.True(t, a.Valid)
	assert.Equal(t, FilterIsNull, a.Filter.Kind)
	assert.Equal(t, "deleted_at", a.Filter.Column)
}

func TestAnalyzeUnaryMinusOnLiteral(t *testing.T) {
	a := analyze("SELECT * FROM t WHERE balance = -5")
	require.True(t, a.Valid)
	require.Equal(t, FilterEq, a.Filter.Kind)
	assert.Equal(t, int64(-5), a.Filter.Value.Int)
}

func TestAnalyzeOnlySelectIsSupported(t *testing.T) {
	a := analyze("DELETE FROM t WHERE id = 1")
	assert.False(t, a.Valid)
}

func TestAnalyzeParseErrorIsInvalid(t *testing.T) {
	a := analyze("SELECT FROM WHERE")
	assert.False(t, a.Valid)
	assert.NotEmpty(t, a.Error)
}

func TestAnalyzerCachesByFingerprint(t *testing.T) {
	an := NewAnalyzer()
	a1 := an.Analyze("SELECT * FROM t WHERE a = 1")
	a2 := an.Analyze("select * from t where a = 1") // same fingerprint
	assert.Equal(t, a1.Tables, a2.Tables)
	assert.Equal(t, a1.Filter.Kind, a2.Filter.Kind)
}

func TestFingerprintCollapsesWhitespaceAndCase(t *testing.T) {
	f1 := Fingerprint("SELECT * FROM t")
	f2 := Fingerprint("select   *\nfrom   t")
	assert.Equal(t, f1, f2)
}

func TestFingerprintDiffersForDifferentQueries(t *testing.T) {
	assert.NotEqual(t, Fingerprint("SELECT * FROM a"), Fingerprint("SELECT * FROM b"))
}

func TestFingerprintIgnoresLeadingAndTrailingWhitespace(t *testing.T) {
	base := Fingerprint("SELECT 1")
	assert.Equal(t, base, Fingerprint("SELECT 1 "))
	assert.Equal(t, base, Fingerprint("SELECT 1\n"))
	assert.Equal(t, base, Fingerprint("SELECT 1\t\r\n"))
	assert.Equal(t, base, Fingerprint("  SELECT 1"))
	assert.Equal(t, base, Fingerprint("  SELECT 1  "))
}
