// Package registry implements the subscription registry: the
// subscription table, the shared-query deduplication map, and the
// table-to-query index the change dispatcher fans out through.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/snapshot"
)

// Subscription is one client's registration against a SharedQuery.
type Subscription struct {
	ID      string
	QueryID string
	Mode    snapshot.Mode

	activityMu   sync.RWMutex
	lastActivity time.Time
}

func (s *Subscription) touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

func (s *Subscription) idleSince() time.Time {
	s.activityMu.RLock()
	defer s.activityMu.RUnlock()
	return s.lastActivity
}

// SubscribeResult is returned by Manager.Subscribe.
type SubscribeResult struct {
	SubscriptionID string
	QueryID        string
	IsNewQuery     bool
	Seq            uint64
}

// Manager owns the three top-level maps of the registry. The maps
// themselves are guarded by a single mutex: mutation happens at
// subscribe/unsubscribe rate, several orders of magnitude below the
// dispatcher's read rate, so one coarse lock is simpler than sharding
// without giving up meaningful throughput. Per-SharedQuery state (its
// snapshot, its subscriber set) has its own finer-grained locks so a
// long-running requery never blocks an unrelated subscribe.
type Manager struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	queries  map[string]*SharedQuery
	tableIdx map[string]map[string]struct{} // table -> set of query fingerprints

	maxSubs   int
	subsCount atomic.Int64

	analyzer *queryanalysis.Analyzer
}

func NewManager(maxSubs int, analyzer *queryanalysis.Analyzer) *Manager {
	return &Manager{
		subs:     make(map[string]*Subscription),
		queries:  make(map[string]*SharedQuery),
		tableIdx: make(map[string]map[string]struct{}),
		maxSubs:  maxSubs,
		analyzer: analyzer,
	}
}

// Subscribe performs the atomic check-and-insert that decides whether
// this query text already has a live SharedQuery to join, or needs one
// created. The caller is responsible for executing the query once and
// handing the rows to SharedQuery.InitEvents/InitSnapshot when
// IsNewQuery is true, or reading SharedQuery.CurrentRows otherwise.
func (m *Manager) Subscribe(subID, sql string, identityCols []string, mode snapshot.Mode) (SubscribeResult, error) {
	a := m.analyzer.Analyze(sql)
	if !a.Valid {
		return SubscribeResult{}, fmt.Errorf("invalid query: %s", a.Error)
	}
	if len(a.Tables) == 0 {
		return SubscribeResult{}, errors.New("no table in query")
	}
	queryID := queryanalysis.Fingerprint(sql)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[subID]; exists {
		return SubscribeResult{}, fmt.Errorf("subscription %q already exists", subID)
	}
	if m.subsCount.Load() >= int64(m.maxSubs) {
		return SubscribeResult{}, errors.New("max subscriptions reached")
	}

	q, existed := m.queries[queryID]
	var seq uint64
	if existed {
		q.refcount.Add(1)
		q.addSubscriber(subID)
		seq = q.Seq()
	} else {
		q = newSharedQuery(sql, identityCols, a.Tables, a.Filter, a.IsSimple)
		q.refcount.Store(1)
		q.addSubscriber(subID)
		m.queries[queryID] = q
		for _, t := range a.Tables {
			set, ok := m.tableIdx[t]
			if !ok {
				set = make(map[string]struct{})
				m.tableIdx[t] = set
			}
			set[queryID] = struct{}{}
		}
		seq = 0
	}
	isNewQuery := !existed

	m.subs[subID] = &Subscription{ID: subID, QueryID: queryID, Mode: mode, lastActivity: time.Now()}
	m.subsCount.Add(1)

	return SubscribeResult{
		SubscriptionID: subID,
		QueryID:        queryID,
		IsNewQuery:     isNewQuery,
		Seq:            seq,
	}, nil
}

// Unsubscribe removes a subscription and, on the refcount's 1->0
// transition, the shared query behind it (re-checked after reacquiring
// the registry lock, since a concurrent subscribe may have raced in).
func (m *Manager) Unsubscribe(subID string) bool {
	m.mu.Lock()
	sub, ok := m.subs[subID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.subs, subID)
	m.subsCount.Add(-1)
	q := m.queries[sub.QueryID]
	m.mu.Unlock()

	if q == nil {
		return true
	}
	q.removeSubscriber(subID)
	if q.refcount.Add(-1) == 0 {
		m.removeQueryIfStillZero(sub.QueryID)
	}
	return true
}

func (m *Manager) removeQueryIfStillZero(queryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queries[queryID]
	if !ok || q.refcount.Load() != 0 {
		return
	}
	delete(m.queries, queryID)
	for _, t := range q.Tables {
		if set, ok := m.tableIdx[t]; ok {
			delete(set, queryID)
			if len(set) == 0 {
				delete(m.tableIdx, t)
			}
		}
	}
}

// Heartbeat marks a subscription active, returning whether it exists.
func (m *Manager) Heartbeat(subID string) bool {
	m.mu.RLock()
	sub, ok := m.subs[subID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	sub.touch()
	return true
}

// Cleanup unsubscribes every subscription idle for at least timeout and
// returns their IDs. Safe to run concurrently with Subscribe/Unsubscribe.
func (m *Manager) Cleanup(timeout time.Duration) []string {
	now := time.Now()

	m.mu.RLock()
	stale := make([]string, 0)
	for id, sub := range m.subs {
		if now.Sub(sub.idleSince()) >= timeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Unsubscribe(id)
	}
	return stale
}

// GetQuery returns the SharedQuery for a fingerprint, if any.
func (m *Manager) GetQuery(queryID string) (*SharedQuery, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queries[queryID]
	return q, ok
}

// GetSubscription returns the Subscription for a subscription ID, if any.
func (m *Manager) GetSubscription(subID string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[subID]
	return s, ok
}

// ForTable visits every fingerprint currently registered against table,
// without holding any per-query lock itself.
func (m *Manager) ForTable(table string, f func(queryID string)) {
	m.mu.RLock()
	set := m.tableIdx[table]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		f(id)
	}
}

// HasTable reports whether any registered query touches table, letting
// the replication streamer skip buffering rows for tables nothing
// subscribes to.
func (m *Manager) HasTable(table string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tableIdx[table]
	return ok
}

// Stats returns (active subscriptions, distinct shared queries).
func (m *Manager) Stats() (subs int, queries int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.subsCount.Load()), len(m.queries)
}
