package replication

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

const (
	backoffBase    = time.Second
	backoffMax     = 60 * time.Second
	standbyTimeout = 10 * time.Second
)

// TableChanges accumulates one transaction's rows per touched table. A
// present-but-empty slice marks a table touched by a Delete/Truncate whose
// row contents were not consulted for filtering.
type TableChanges map[string][]rowvalue.Row

// CommitFunc processes one committed transaction's buffered changes. It
// runs synchronously inside the stream loop, so the acknowledgement to
// Postgres only advances once dispatch for the transaction has returned.
type CommitFunc func(ctx context.Context, changes TableChanges)

// Stats are the streamer's own counters. The pre-filter skip/requery
// counters belong to internal/dispatcher, which owns process(buffer).
type Stats struct {
	Processed  atomic.Uint64
	Reconnects atomic.Uint64
}

// Streamer drives PostgreSQL logical replication over pgoutput, buffering
// each transaction and handing it to a CommitFunc at Commit.
type Streamer struct {
	connString  string
	slot        string
	publication string
	log         *zap.SugaredLogger

	decoder *Decoder
	Stats   Stats
}

func NewStreamer(connString, slot, publication string, log *zap.SugaredLogger) *Streamer {
	return &Streamer{
		connString:  connString,
		slot:        slot,
		publication: publication,
		log:         log,
		decoder:     NewDecoder(),
	}
}

// Run drives the reconnect loop until ctx is cancelled: disconnected ->
// connecting -> streaming -> disconnected, with exponential backoff
// starting at 1s and capped at 60s, reset to base once an attempt has
// successfully started replication.
func (s *Streamer) Run(ctx context.Context, hasTable func(table string) bool, onCommit CommitFunc) error {
	backoff := backoffBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := s.streamOnce(ctx, hasTable, onCommit)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if connected {
			backoff = backoffBase
		}
		s.Stats.Reconnects.Add(1)
		if err != nil && s.log != nil {
			s.log.Warnw("replication stream ended, reconnecting", "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// streamOnce runs one connect-and-stream attempt. The returned bool
// reports whether replication was successfully started, independent of
// how the attempt later ended -- it is what resets the backoff.
func (s *Streamer) streamOnce(ctx context.Context, hasTable func(string) bool, onCommit CommitFunc) (bool, error) {
	conn, err := pgconn.Connect(ctx, replicationConnString(s.connString))
	if err != nil {
		return false, fmt.Errorf("replication connect: %w", err)
	}
	defer conn.Close(ctx)

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("identify system: %w", err)
	}

	pluginArgs := []string{"proto_version '1'", fmt.Sprintf("publication_names '%s'", s.publication)}
	err = pglogrepl.StartReplication(ctx, conn, s.slot, sysident.XLogPos, pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs})
	if err != nil {
		return false, fmt.Errorf("start replication: %w", err)
	}
	if s.log != nil {
		s.log.Infow("replication stream connected", "slot", s.slot, "publication", s.publication)
	}

	clientXLogPos := sysident.XLogPos
	standbyDeadline := time.Now().Add(standbyTimeout)

	buf := make(TableChanges)
	inTx := false

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		if !standbyDeadline.IsZero() && time.Now().After(standbyDeadline) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: clientXLogPos}); err != nil {
				return true, fmt.Errorf("standby status update: %w", err)
			}
			standbyDeadline = time.Now().Add(standbyTimeout)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextDeadline(standbyDeadline))
		rawMsg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return true, fmt.Errorf("receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return true, fmt.Errorf("replication error: %s", errMsg.Message)
		}
		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				continue
			}
			if pkm.ServerWALEnd > clientXLogPos {
				clientXLogPos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				standbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				continue
			}
			s.Stats.Processed.Add(1)

			if xld.WALStart+pglogrepl.LSN(len(xld.WALData)) > clientXLogPos {
				clientXLogPos = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
			}

			change, ok := s.decoder.Decode(xld.WALData)
			if ok {
				s.applyChange(change, hasTable, &buf, &inTx)
			}

			if !inTx && len(buf) > 0 {
				onCommit(ctx, buf)
				buf = make(TableChanges)
			}
			if change.Kind == KindCommit {
				if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: clientXLogPos}); err != nil {
					return true, fmt.Errorf("ack commit: %w", err)
				}
			}
		}
	}
}

// applyChange implements the transaction-discipline state machine:
// Begin clears the buffer, Insert/Update append rows for touched tables,
// Delete/Truncate mark tables touched without row data, Commit flushes.
func (s *Streamer) applyChange(change Change, hasTable func(string) bool, buf *TableChanges, inTx *bool) {
	switch change.Kind {
	case KindBegin:
		*inTx = true
		*buf = make(TableChanges)
	case KindCommit:
		*inTx = false
	case KindInsert, KindUpdate:
		if hasTable(change.Table) {
			(*buf)[change.Table] = append((*buf)[change.Table], change.Row)
		}
	case KindDelete:
		if hasTable(change.Table) {
			if _, exists := (*buf)[change.Table]; !exists {
				(*buf)[change.Table] = nil
			}
		}
	case KindTruncate:
		for _, rel := range change.Rels {
			table, ok := s.decoder.Table(rel)
			if !ok || !hasTable(table) {
				continue
			}
			if _, exists := (*buf)[table]; !exists {
				(*buf)[table] = nil
			}
		}
	}
}

func nextDeadline(standbyDeadline time.Time) time.Time {
	if standbyDeadline.IsZero() {
		return time.Now().Add(standbyTimeout)
	}
	return standbyDeadline
}

func replicationConnString(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "replication=database"
}
