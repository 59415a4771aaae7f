// Package snapshot implements the per-query row set and its insert/delete
// diff against a freshly-requeried result.
package snapshot

// Mode selects how a subscriber wants changes delivered.
type Mode uint8

const (
	// ModeEvents delivers individual insert/delete events (default).
	ModeEvents Mode = iota
	// ModeSnapshot delivers the full current row set on every change.
	ModeSnapshot
)

// Event is a single row change: Diff is +1 for an insert, -1 for a delete.
type Event struct {
	Timestamp int64          `json:"mz_timestamp"`
	Diff      int8           `json:"mz_diff"`
	Data      map[string]any `json:"data,omitempty"`
}

func insertEvent(ts int64, data map[string]any) Event {
	return Event{Timestamp: ts, Diff: 1, Data: data}
}

func deleteEvent(ts int64, data map[string]any) Event {
	return Event{Timestamp: ts, Diff: -1, Data: data}
}

// AsInsertEvents renders a row set as insert events timestamped at 0, for
// an events-mode subscriber late-joining an already-live query (it has no
// single "as of" wall-clock moment, only "this is everything so far").
func AsInsertEvents(rows []map[string]any) []Event {
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, insertEvent(0, r))
	}
	return out
}

// Batch is a sequenced group of events published to events-mode
// subscribers of one SharedQuery.
type Batch struct {
	Seq    uint64  `json:"seq"`
	Ts     int64   `json:"ts"`
	Events []Event `json:"events"`
}

// RowsBatch is the snapshot-mode counterpart of Batch: the same seq/ts
// pair but carrying the full current row set instead of a diff.
type RowsBatch struct {
	Seq  uint64           `json:"seq"`
	Ts   int64            `json:"ts"`
	Rows []map[string]any `json:"rows"`
}
