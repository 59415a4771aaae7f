package queryanalysis

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds the analysis cache: old entries are evicted LRU
// rather than allowed to grow without bound.
const cacheSize = 1000

// Analyzer caches Analysis results by fingerprint so repeat subscriptions
// to the same query text (modulo whitespace/case) skip the parser.
type Analyzer struct {
	cache *lru.Cache[string, Analysis]
}

func NewAnalyzer() *Analyzer {
	c, err := lru.New[string, Analysis](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(err)
	}
	return &Analyzer{cache: c}
}

// Analyze returns the Analysis for sql, parsing and caching on miss.
// Invalid statements are not cached: a transient syntax error shouldn't
// wedge a fingerprint's result for the process lifetime.
func (a *Analyzer) Analyze(sql string) Analysis {
	fp := Fingerprint(sql)
	if cached, ok := a.cache.Get(fp); ok {
		return cached
	}
	result := analyze(sql)
	if result.Valid {
		a.cache.Add(fp, result)
	}
	return result
}
