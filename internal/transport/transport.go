// Package transport binds the subject-addressed subscribe/unsubscribe/
// heartbeat/health protocol to NATS core pub/sub.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dosco/livequery/internal/dispatcher"
	"github.com/dosco/livequery/internal/registry"
	"github.com/dosco/livequery/internal/snapshot"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Transport owns one NATS connection, one wildcard subscription per verb,
// and the msgs_in/msgs_out counters the health reply reports.
type Transport struct {
	nc       *nats.Conn
	prefix   string
	serverID string
	registry *registry.Manager
	querier  dispatcher.Querier
	log      *zap.SugaredLogger

	msgsIn  atomic.Uint64
	msgsOut atomic.Uint64

	ctx  context.Context
	subs []*nats.Subscription
}

// Connect dials NATS and builds a Transport. Run must be called to start
// listening.
func Connect(url, prefix, serverID string, reg *registry.Manager, querier dispatcher.Querier, log *zap.SugaredLogger) (*Transport, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Transport{
		nc:       nc,
		prefix:   strings.TrimSuffix(prefix, "."),
		serverID: serverID,
		registry: reg,
		querier:  querier,
		log:      log,
		ctx:      context.Background(),
	}, nil
}

// Connected reports whether the underlying NATS connection is up, for the
// HTTP readiness probe.
func (t *Transport) Connected() bool {
	return t.nc.Status() == nats.CONNECTED
}

// Run subscribes to the three verb wildcards and the health subject and
// blocks until ctx is cancelled, then drains the connection: cancellation
// is how the
// transport task learns of a shutdown and exits cleanly.
func (t *Transport) Run(ctx context.Context) error {
	t.ctx = ctx

	subscribeSub, err := t.nc.Subscribe(subscribeWildcard(t.prefix), t.handleSubscribe)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subscribeWildcard(t.prefix), err)
	}
	unsubscribeSub, err := t.nc.Subscribe(unsubscribeWildcard(t.prefix), t.handleUnsubscribe)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", unsubscribeWildcard(t.prefix), err)
	}
	heartbeatSub, err := t.nc.Subscribe(heartbeatWildcard(t.prefix), t.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", heartbeatWildcard(t.prefix), err)
	}
	healthSub, err := t.nc.Subscribe(healthSubject(t.prefix), t.handleHealth)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", healthSubject(t.prefix), err)
	}
	t.subs = []*nats.Subscription{subscribeSub, unsubscribeSub, heartbeatSub, healthSub}

	if t.log != nil {
		t.log.Infow("transport listening", "prefix", t.prefix)
	}

	<-ctx.Done()
	for _, s := range t.subs {
		_ = s.Unsubscribe()
	}
	return t.nc.Drain()
}

func (t *Transport) handleSubscribe(msg *nats.Msg) {
	t.msgsIn.Add(1)

	var req subscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		t.reply(msg, errResponse("invalid request json"))
		return
	}
	subID, ok := subjectSubIDFromSuffix(t.prefix, msg.Subject, "subscribe")
	if !ok {
		subID = req.SubscriptionID
	}
	if subID == "" {
		t.reply(msg, errResponse("missing subscription_id"))
		return
	}
	mode := modeFromWire(req.Mode)

	res, err := t.registry.Subscribe(subID, req.Query, req.IdentityColumns, mode)
	if err != nil {
		t.reply(msg, errResponse(err.Error()))
		return
	}
	subject := eventsSubject(t.prefix, subID)

	if res.IsNewQuery {
		t.replyNewQuery(msg, res, subID, subject, req.Query, mode)
		return
	}
	t.replyExistingQuery(msg, res, subID, subject, mode)
}

// replyNewQuery executes the query once and seeds the SharedQuery's
// Snapshot, returning the initial row set to the subscriber that created
// it.
func (t *Transport) replyNewQuery(msg *nats.Msg, res registry.SubscribeResult, subID, subject, sql string, mode snapshot.Mode) {
	rows, err := t.querier.QueryRows(t.ctx, sql)
	if err != nil {
		t.registry.Unsubscribe(subID)
		t.reply(msg, errResponse(fmt.Sprintf("query failed: %s", err)))
		return
	}
	q, ok := t.registry.GetQuery(res.QueryID)
	if !ok {
		t.reply(msg, errResponse("query not found"))
		return
	}

	resp := subscribeResponse{
		Success:        true,
		SubscriptionID: subID,
		Subject:        subject,
		IsNew:          true,
		Seq:            0,
		Mode:           modeToWire(mode),
	}
	if mode == snapshot.ModeSnapshot {
		resp.Rows = q.InitSnapshot(rows)
	} else {
		resp.Snapshot = q.InitEvents(rows)
	}
	t.reply(msg, resp)
}

// replyExistingQuery answers a subscriber joining an already-live shared
// query with its current row set, reporting is_new=false.
func (t *Transport) replyExistingQuery(msg *nats.Msg, res registry.SubscribeResult, subID, subject string, mode snapshot.Mode) {
	q, ok := t.registry.GetQuery(res.QueryID)
	if !ok {
		t.reply(msg, errResponse("query not found"))
		return
	}
	resp := subscribeResponse{
		Success:        true,
		SubscriptionID: subID,
		Subject:        subject,
		IsNew:          false,
		Seq:            res.Seq,
		Mode:           modeToWire(mode),
	}
	rows := q.CurrentRows()
	if mode == snapshot.ModeSnapshot {
		resp.Rows = rows
	} else {
		resp.Snapshot = snapshot.AsInsertEvents(rows)
	}
	t.reply(msg, resp)
}

func (t *Transport) handleUnsubscribe(msg *nats.Msg) {
	t.msgsIn.Add(1)
	subID, ok := subjectSubIDFromSuffix(t.prefix, msg.Subject, "unsubscribe")
	if !ok {
		t.reply(msg, simpleResponse{Success: false, Error: "missing subscription_id in subject"})
		return
	}
	t.reply(msg, simpleResponse{Success: t.registry.Unsubscribe(subID)})
}

func (t *Transport) handleHeartbeat(msg *nats.Msg) {
	t.msgsIn.Add(1)
	subID, ok := subjectSubIDFromSuffix(t.prefix, msg.Subject, "heartbeat")
	if !ok {
		t.reply(msg, simpleResponse{Success: false, Error: "missing subscription_id in subject"})
		return
	}
	t.reply(msg, simpleResponse{Success: t.registry.Heartbeat(subID)})
}

func (t *Transport) handleHealth(msg *nats.Msg) {
	t.msgsIn.Add(1)
	subs, queries := t.registry.Stats()
	t.reply(msg, healthResponse{
		Status:        "healthy",
		ServerID:      t.serverID,
		Subscriptions: subs,
		Queries:       queries,
		MsgsIn:        t.msgsIn.Load(),
		MsgsOut:       t.msgsOut.Load(),
	})
}

func (t *Transport) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	t.msgsOut.Add(1)
	if err := t.nc.Publish(msg.Reply, data); err != nil && t.log != nil {
		t.log.Warnw("reply publish failed", "error", err)
	}
}

// PublishEvents implements dispatcher.Publisher for events-mode subscribers.
// data is the batch already marshaled once by the caller and reused across
// every subscriber of that batch.
func (t *Transport) PublishEvents(ctx context.Context, subID string, data []byte) error {
	t.msgsOut.Add(1)
	return t.nc.Publish(eventsSubject(t.prefix, subID), data)
}

// PublishSnapshot implements dispatcher.Publisher for snapshot-mode
// subscribers. data is the row set already marshaled once by the caller.
func (t *Transport) PublishSnapshot(ctx context.Context, subID string, data []byte) error {
	t.msgsOut.Add(1)
	return t.nc.Publish(eventsSubject(t.prefix, subID), data)
}

// Stats returns (messages in, messages out), for the stats ticker.
func (t *Transport) Stats() (msgsIn, msgsOut uint64) {
	return t.msgsIn.Load(), t.msgsOut.Load()
}
