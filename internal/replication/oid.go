package replication

// Well-known PostgreSQL type OIDs relevant to text-tuple decoding: text
// values are parsed into typed RowValues by column OID. Matches
// pg_type.dat; duplicated here rather than imported because no available
// dependency exposes this table directly.
const (
	oidBool    = 16
	oidInt2    = 21
	oidInt4    = 23
	oidInt8    = 20
	oidFloat4  = 700
	oidFloat8  = 701
	oidNumeric = 1700
	oidJSON    = 114
	oidJSONB   = 3802
	oidBytea   = 17
)
