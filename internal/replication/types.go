// Package replication decodes the PostgreSQL pgoutput logical-replication
// protocol and streams committed transactions to a caller-supplied handler.
// It owns the wire format only; the WHERE pre-filter and fan-out live in
// internal/dispatcher.
package replication

import "github.com/dosco/livequery/internal/rowvalue"

// Kind tags the decoded message variants of the pgoutput stream.
type Kind uint8

const (
	KindOther Kind = iota
	KindBegin
	KindCommit
	KindInsert
	KindUpdate
	KindDelete
	KindTruncate
)

// Change is one decoded pgoutput message. Only the fields relevant to Kind
// are meaningful; Delete/Truncate never carry row data: the decoder does
// not parse the old tuple a Delete may carry.
type Change struct {
	Kind  Kind
	Rel   uint32
	Row   rowvalue.Row
	Table string   // resolved from the relation cache, Insert/Update/Delete only
	Rels  []uint32 // Truncate only
}

// colMeta is one column's replication-relevant metadata.
type colMeta struct {
	name string
	oid  uint32
}

// relCache is one relation's cached description, keyed by relation OID.
type relCache struct {
	table    string
	cols     []colMeta
	colNames []string // shared across every row built from this relation
}
