package queryanalysis

import (
	"hash/maphash"
	"strconv"
)

var fingerprintSeed = maphash.MakeSeed()

// Fingerprint collapses runs of whitespace to a single space, lowercases
// ASCII letters, and hashes the result. Two queries that differ only in
// formatting share a SharedQuery.
func Fingerprint(sql string) string {
	var h maphash.Hash
	h.SetSeed(fingerprintSeed)
	wrote := false
	pendingSpace := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f' {
			if wrote {
				pendingSpace = true
			}
			continue
		}
		if pendingSpace {
			h.WriteByte(' ')
			pendingSpace = false
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h.WriteByte(c)
		wrote = true
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
