package db

// JSON/JSONB OIDs, duplicated from internal/replication's table rather
// than shared: this package decodes pgx's already-typed query results,
// the replication package decodes raw wire bytes -- two different decode
// paths that happen to need the same two OIDs.
const (
	oidJSON  = 114
	oidJSONB = 3802
)
