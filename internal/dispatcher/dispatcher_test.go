package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/registry"
	"github.com/dosco/livequery/internal/replication"
	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/dosco/livequery/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	mu    sync.Mutex
	rows  map[string][]rowvalue.Row
	err   error
	calls int
}

func (f *fakeQuerier) QueryRows(ctx context.Context, sql string) ([]rowvalue.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[sql], nil
}

type publishedEvents struct {
	subID string
	batch snapshot.Batch
}

type publishedSnapshot struct {
	subID string
	batch snapshot.RowsBatch
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []publishedEvents
	snapshots []publishedSnapshot

	eventPayloads    [][]byte
	snapshotPayloads [][]byte
}

func (f *fakePublisher) PublishEvents(ctx context.Context, subID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var batch snapshot.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return err
	}
	f.events = append(f.events, publishedEvents{subID: subID, batch: batch})
	f.eventPayloads = append(f.eventPayloads, data)
	return nil
}

func (f *fakePublisher) PublishSnapshot(ctx context.Context, subID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var batch snapshot.RowsBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return err
	}
	f.snapshots = append(f.snapshots, publishedSnapshot{subID: subID, batch: batch})
	f.snapshotPayloads = append(f.snapshotPayloads, data)
	return nil
}

func userRow(id int64, status string) rowvalue.Row {
	return rowvalue.NewRow([]string{"id", "status"}, []rowvalue.Value{rowvalue.Int(id), rowvalue.String(status)})
}

func userRowNoStatus(id int64) rowvalue.Row {
	return rowvalue.NewRow([]string{"id"}, []rowvalue.Value{rowvalue.Int(id)})
}

func newHarness() (*registry.Manager, *fakeQuerier, *fakePublisher, *Dispatcher) {
	reg := registry.NewManager(1000, queryanalysis.NewAnalyzer())
	q := &fakeQuerier{rows: make(map[string][]rowvalue.Row)}
	p := &fakePublisher{}
	d := New(reg, q, p, nil)
	return reg, q, p, d
}

// S4 — WHERE pre-filter hit: no requery, no events.
func TestProcessSkipsRequeryWhenEveryRowIsNoMatch(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users WHERE status = 'active'"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)

	changes := replication.TableChanges{"users": {userRow(1, "inactive")}}
	d.Process(context.Background(), changes)

	assert.Equal(t, 0, q.calls)
	assert.Empty(t, p.events)
	assert.Equal(t, uint64(1), d.Stats.Skipped.Load())
}

// S5 — WHERE unknown ⇒ requery: a row missing the filtered column forces
// a requery even though the surviving rows may still not match.
func TestProcessRequeriesWhenRowCannotBeEvaluated(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users WHERE status = 'active'"
	res, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	q.rows[sql] = []rowvalue.Row{userRow(1, "active")}

	changes := replication.TableChanges{"users": {userRowNoStatus(1)}}
	d.Process(context.Background(), changes)

	assert.Equal(t, 1, q.calls)
	require.Len(t, p.events, 1)
	assert.Equal(t, uint64(1), p.events[0].batch.Seq)
	_ = res
}

// S1 — basic insert.
func TestProcessPublishesInsertEventWithSeqOne(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	q.rows[sql] = []rowvalue.Row{userRow(1, "active")}

	d.Process(context.Background(), replication.TableChanges{"users": {userRow(1, "active")}})

	require.Len(t, p.events, 1)
	batch := p.events[0].batch
	assert.Equal(t, uint64(1), batch.Seq)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, int8(1), batch.Events[0].Diff)
	assert.Equal(t, float64(1), batch.Events[0].Data["id"])
}

// S3 — shared query: both subscribers receive the same seq.
func TestProcessPublishesSameBatchToEverySubscriber(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	_, err = reg.Subscribe("s2", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	q.rows[sql] = []rowvalue.Row{userRow(1, "active")}

	d.Process(context.Background(), replication.TableChanges{"users": {userRow(1, "active")}})

	require.Len(t, p.events, 2)
	assert.Equal(t, p.events[0].batch.Seq, p.events[1].batch.Seq)
	seen := map[string]bool{p.events[0].subID: true, p.events[1].subID: true}
	assert.True(t, seen["s1"] && seen["s2"])

	// The dispatcher marshals one batch per requery and reuses those exact
	// bytes for every subscriber, rather than re-marshaling per subscriber.
	require.Len(t, p.eventPayloads, 2)
	assert.Same(t, &p.eventPayloads[0][0], &p.eventPayloads[1][0])
}

func TestProcessSplitsSnapshotModeSubscribers(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	_, err = reg.Subscribe("s2", sql, nil, snapshot.ModeSnapshot)
	require.NoError(t, err)
	q.rows[sql] = []rowvalue.Row{userRow(1, "active")}

	d.Process(context.Background(), replication.TableChanges{"users": {userRow(1, "active")}})

	require.Len(t, p.events, 1)
	assert.Equal(t, "s1", p.events[0].subID)
	require.Len(t, p.snapshots, 1)
	assert.Equal(t, "s2", p.snapshots[0].subID)
	require.Len(t, p.snapshots[0].batch.Rows, 1)
}

// Deletes touch a table with an empty row list and must never be skipped,
// even for a simple query with a non-None filter.
func TestProcessNeverSkipsDeletes(t *testing.T) {
	reg, q, _, d := newHarness()
	sql := "SELECT * FROM users WHERE status = 'active'"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	q.rows[sql] = nil

	d.Process(context.Background(), replication.TableChanges{"users": nil})

	assert.Equal(t, 1, q.calls)
	assert.Equal(t, uint64(0), d.Stats.Skipped.Load())
}

func TestRequeryLeavesSnapshotUntouchedOnQueryError(t *testing.T) {
	reg, q, p, d := newHarness()
	sql := "SELECT * FROM users"
	_, err := reg.Subscribe("s1", sql, nil, snapshot.ModeEvents)
	require.NoError(t, err)
	q.err = errors.New("connection reset")

	d.Process(context.Background(), replication.TableChanges{"users": {userRow(1, "active")}})

	assert.Empty(t, p.events)
}

func TestProcessIgnoresUnrelatedTables(t *testing.T) {
	reg, q, p, d := newHarness()
	_, err := reg.Subscribe("s1", "SELECT * FROM users", nil, snapshot.ModeEvents)
	require.NoError(t, err)

	d.Process(context.Background(), replication.TableChanges{"orders": {userRow(1, "active")}})

	assert.Equal(t, 0, q.calls)
	assert.Empty(t, p.events)
}
