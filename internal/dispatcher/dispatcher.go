// Package dispatcher implements the change dispatcher: it turns a
// committed transaction's touched tables into a set of shared queries to
// requery, applies the WHERE pre-filter to skip queries no touched row
// could possibly affect, and fans the resulting diff out to every
// subscriber of each query that changed.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/registry"
	"github.com/dosco/livequery/internal/replication"
	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/dosco/livequery/internal/snapshot"
	"github.com/dosco/livequery/internal/whereeval"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentRequeries bounds in-flight database requeries.
const maxConcurrentRequeries = 8

// Querier executes a SharedQuery's SQL against the database pool and
// returns the typed result set. Implemented by internal/db.
type Querier interface {
	QueryRows(ctx context.Context, sql string) ([]rowvalue.Row, error)
}

// Publisher delivers one already-marshaled payload to one subscriber's
// subject. Implemented by internal/transport. The caller (requery) marshals
// a batch's payload once and passes the same bytes to every subscriber,
// rather than each Publish call re-deriving them.
type Publisher interface {
	PublishEvents(ctx context.Context, subID string, data []byte) error
	PublishSnapshot(ctx context.Context, subID string, data []byte) error
}

// Stats are the dispatcher's own counters (requeries issued, requeries
// skipped by the pre-filter), logged by the stats ticker alongside
// internal/replication's Stats and internal/registry's Stats.
type Stats struct {
	Requeries atomic.Uint64
	Skipped   atomic.Uint64
}

// Dispatcher owns the process(buffer) and requery() phases of change
// dispatch.
type Dispatcher struct {
	registry *registry.Manager
	querier  Querier
	pub      Publisher
	log      *zap.SugaredLogger
	sem      *semaphore.Weighted

	Stats Stats
}

func New(reg *registry.Manager, querier Querier, pub Publisher, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		querier:  querier,
		pub:      pub,
		log:      log,
		sem:      semaphore.NewWeighted(maxConcurrentRequeries),
	}
}

// Process unions the table index over every touched table into a
// candidate fingerprint set, applies the WHERE pre-filter, then requeries
// the survivors with bounded concurrency. It is meant to be passed as a
// replication.CommitFunc.
func (d *Dispatcher) Process(ctx context.Context, changes replication.TableChanges) {
	toRequery := make(map[string]struct{})
	skipped := 0

	for table := range changes {
		d.registry.ForTable(table, func(queryID string) {
			if _, already := toRequery[queryID]; already {
				return
			}
			q, ok := d.registry.GetQuery(queryID)
			if !ok {
				return
			}
			if d.shouldSkip(q, changes) {
				skipped++
				d.Stats.Skipped.Add(1)
				return
			}
			toRequery[queryID] = struct{}{}
		})
	}

	if len(toRequery) == 0 {
		return
	}
	d.Stats.Requeries.Add(uint64(len(toRequery)))
	if d.log != nil {
		d.log.Infow("dispatching requeries", "tables", len(changes), "queries", len(toRequery), "skipped", skipped)
	}

	var wg sync.WaitGroup
	for queryID := range toRequery {
		queryID := queryID
		if err := d.sem.Acquire(ctx, 1); err != nil {
			continue // ctx cancelled; remaining requeries drop, next WAL transaction will retry
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			d.requery(ctx, queryID)
		}()
	}
	wg.Wait()
}

// shouldSkip implements the pre-filter rule: a query skips requery only
// when it is simple, carries a non-None filter, the rows
// touched on its (single) table are non-empty, and every one of those
// rows evaluates to NoMatch. Deletes/truncates touch a table with an
// empty row list and so are never skipped by construction.
func (d *Dispatcher) shouldSkip(q *registry.SharedQuery, changes replication.TableChanges) bool {
	if !q.IsSimple || q.Filter.Kind == queryanalysis.FilterNone || q.Filter.Kind == queryanalysis.FilterComplex {
		return false
	}
	if len(q.Tables) != 1 {
		return false
	}
	rows, touched := changes[q.Tables[0]]
	if !touched || len(rows) == 0 {
		return false
	}
	for i := range rows {
		if whereeval.Eval(q.Filter, &rows[i]) != whereeval.NoMatch {
			return false
		}
	}
	return true
}

// requery runs the requery phase for one fingerprint.
func (d *Dispatcher) requery(ctx context.Context, queryID string) {
	q, ok := d.registry.GetQuery(queryID)
	if !ok {
		return
	}
	subIDs := q.Subscribers()
	if len(subIDs) == 0 {
		return
	}

	rows, err := d.querier.QueryRows(ctx, q.Query)
	if err != nil {
		if d.log != nil {
			d.log.Warnw("requery failed, snapshot left untouched", "query_id", queryID, "error", err)
		}
		return
	}

	events := q.Diff(rows)
	if len(events) == 0 {
		return
	}

	var eventSubs, snapSubs []string
	for _, subID := range subIDs {
		sub, ok := d.registry.GetSubscription(subID)
		if !ok {
			continue
		}
		switch sub.Mode {
		case snapshot.ModeSnapshot:
			snapSubs = append(snapSubs, subID)
		default:
			eventSubs = append(eventSubs, subID)
		}
	}
	if len(eventSubs) == 0 && len(snapSubs) == 0 {
		return
	}

	batch, ok := q.MakeBatch(events)
	if !ok {
		return
	}

	if len(eventSubs) > 0 {
		data, err := json.Marshal(batch)
		if err != nil {
			if d.log != nil {
				d.log.Warnw("marshal events payload failed", "query_id", queryID, "error", err)
			}
		} else {
			for _, subID := range eventSubs {
				if err := d.pub.PublishEvents(ctx, subID, data); err != nil && d.log != nil {
					d.log.Warnw("publish failed", "subscription_id", subID, "error", fmt.Errorf("events: %w", err))
				}
			}
		}
	}

	if len(snapSubs) > 0 {
		data, err := json.Marshal(snapshot.RowsBatch{Seq: batch.Seq, Ts: batch.Ts, Rows: q.CurrentRows()})
		if err != nil {
			if d.log != nil {
				d.log.Warnw("marshal snapshot payload failed", "query_id", queryID, "error", err)
			}
		} else {
			for _, subID := range snapSubs {
				if err := d.pub.PublishSnapshot(ctx, subID, data); err != nil && d.log != nil {
					d.log.Warnw("publish failed", "subscription_id", subID, "error", fmt.Errorf("snapshot: %w", err))
				}
			}
		}
	}
}
