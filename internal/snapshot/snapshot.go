package snapshot

import (
	"time"

	"github.com/dosco/livequery/internal/rowvalue"
)

type rowEntry struct {
	hash uint64
	data map[string]any
}

// Snapshot holds the last-known row set for one SharedQuery, keyed by
// identity hash. It is not internally synchronized: callers serialize
// access with their own lock (the registry holds one write lock per
// SharedQuery).
type Snapshot struct {
	rows map[uint64]rowEntry
}

func New() *Snapshot {
	return &Snapshot{rows: make(map[uint64]rowEntry)}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// identityAndContentHash computes (identity_hash, content_hash) for a row.
// When identityCols is empty both hashes collapse to the same single
// computation, so rows are deduplicated by full content instead.
func identityAndContentHash(r *rowvalue.Row, identityCols []string) (idHash, contentHash uint64) {
	contentHash = r.HashContent()
	if len(identityCols) == 0 {
		return contentHash, contentHash
	}
	return r.HashIdentity(identityCols), contentHash
}

// InitEvents replaces the stored set with rows and returns one insert
// event per row (events-mode subscribers of a newly created query).
func (s *Snapshot) InitEvents(rows []rowvalue.Row, identityCols []string) []Event {
	ts := nowMillis()
	s.rows = make(map[uint64]rowEntry, len(rows))
	events := make([]Event, 0, len(rows))
	for i := range rows {
		idHash, contentHash := identityAndContentHash(&rows[i], identityCols)
		data := rows[i].ToJSON()
		events = append(events, insertEvent(ts, data))
		s.rows[idHash] = rowEntry{hash: contentHash, data: data}
	}
	return events
}

// InitSnapshot makes the same state change as InitEvents but returns the
// row set itself, for snapshot-mode subscribers.
func (s *Snapshot) InitSnapshot(rows []rowvalue.Row, identityCols []string) []map[string]any {
	s.rows = make(map[uint64]rowEntry, len(rows))
	out := make([]map[string]any, 0, len(rows))
	for i := range rows {
		idHash, contentHash := identityAndContentHash(&rows[i], identityCols)
		data := rows[i].ToJSON()
		out = append(out, data)
		s.rows[idHash] = rowEntry{hash: contentHash, data: data}
	}
	return out
}

// CurrentRows returns the stored row set, for late joiners and
// snapshot-mode subscribers joining an already-live query.
func (s *Snapshot) CurrentRows() []map[string]any {
	out := make([]map[string]any, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e.data)
	}
	return out
}

// Diff replaces the stored set with rows, emitting the minimal
// delete/insert event sequence that transforms the old set into the new
// one.
func (s *Snapshot) Diff(rows []rowvalue.Row, identityCols []string) []Event {
	ts := nowMillis()
	old := s.rows
	newRows := make(map[uint64]rowEntry, len(rows))

	est := len(old)
	if len(rows) > est {
		est = len(rows)
	}
	est /= 20
	if est < 4 {
		est = 4
	}
	events := make([]Event, 0, est)

	for i := range rows {
		idHash, contentHash := identityAndContentHash(&rows[i], identityCols)
		prev, existed := old[idHash]
		if existed {
			delete(old, idHash)
		}
		switch {
		case existed && prev.hash == contentHash:
			newRows[idHash] = prev
		case existed:
			events = append(events, deleteEvent(ts, prev.data))
			data := rows[i].ToJSON()
			events = append(events, insertEvent(ts, data))
			newRows[idHash] = rowEntry{hash: contentHash, data: data}
		default:
			data := rows[i].ToJSON()
			events = append(events, insertEvent(ts, data))
			newRows[idHash] = rowEntry{hash: contentHash, data: data}
		}
	}

	for _, leftover := range old {
		events = append(events, deleteEvent(ts, leftover.data))
	}

	s.rows = newRows
	return events
}
