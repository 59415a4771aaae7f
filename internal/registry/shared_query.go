package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/dosco/livequery/internal/snapshot"
)

// SharedQuery is the state shared by every subscription with the same
// query fingerprint. Exactly one exists per distinct query text (modulo
// whitespace/case) at any time.
type SharedQuery struct {
	Query        string
	IdentityCols []string
	Tables       []string
	Filter       queryanalysis.WhereFilter
	IsSimple     bool

	snapMu sync.RWMutex
	snap   *snapshot.Snapshot

	seq      atomic.Uint64
	refcount atomic.Int64

	subMu       sync.RWMutex
	subscribers map[string]struct{}
}

func newSharedQuery(sql string, identityCols, tables []string, filter queryanalysis.WhereFilter, isSimple bool) *SharedQuery {
	return &SharedQuery{
		Query:        sql,
		IdentityCols: identityCols,
		Tables:       tables,
		Filter:       filter,
		IsSimple:     isSimple,
		snap:         snapshot.New(),
		subscribers:  make(map[string]struct{}),
	}
}

// Seq returns the current sequence number without advancing it.
func (q *SharedQuery) Seq() uint64 { return q.seq.Load() }

// MakeBatch increments the sequence and wraps events into a Batch. Empty
// event slices never consume a sequence number: no events means no
// observable change, so no new seq.
func (q *SharedQuery) MakeBatch(events []snapshot.Event) (snapshot.Batch, bool) {
	if len(events) == 0 {
		return snapshot.Batch{}, false
	}
	seq := q.seq.Add(1)
	return snapshot.Batch{Seq: seq, Ts: time.Now().UnixMilli(), Events: events}, true
}

// InitEvents installs the initial row set and returns insert events,
// holding the snapshot write lock for the duration.
func (q *SharedQuery) InitEvents(rows []rowvalue.Row) []snapshot.Event {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()
	return q.snap.InitEvents(rows, q.IdentityCols)
}

// InitSnapshot installs the initial row set and returns the row set
// itself, for snapshot-mode subscribers.
func (q *SharedQuery) InitSnapshot(rows []rowvalue.Row) []map[string]any {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()
	return q.snap.InitSnapshot(rows, q.IdentityCols)
}

// Diff diffs freshly requeried rows against the stored set under an
// exclusive lock, held for the duration of one diff.
func (q *SharedQuery) Diff(rows []rowvalue.Row) []snapshot.Event {
	q.snapMu.Lock()
	defer q.snapMu.Unlock()
	return q.snap.Diff(rows, q.IdentityCols)
}

// CurrentRows is a cheap read-only snapshot for late joiners.
func (q *SharedQuery) CurrentRows() []map[string]any {
	q.snapMu.RLock()
	defer q.snapMu.RUnlock()
	return q.snap.CurrentRows()
}

// Subscribers returns a snapshot of the current subscriber IDs, taken
// under a brief read lock.
func (q *SharedQuery) Subscribers() []string {
	q.subMu.RLock()
	defer q.subMu.RUnlock()
	out := make([]string, 0, len(q.subscribers))
	for id := range q.subscribers {
		out = append(out, id)
	}
	return out
}

func (q *SharedQuery) addSubscriber(subID string) {
	q.subMu.Lock()
	q.subscribers[subID] = struct{}{}
	q.subMu.Unlock()
}

func (q *SharedQuery) removeSubscriber(subID string) {
	q.subMu.Lock()
	delete(q.subscribers, subID)
	q.subMu.Unlock()
}
