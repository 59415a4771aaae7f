// Package db wraps pgxpool.Pool with the typed query-execution path the
// dispatcher and transport need: a pool, running query/error/latency
// counters, and a row decoder keyed off each column's type OID.
package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const slowQueryThreshold = 100 * time.Millisecond

// Pool is the shared database handle: one per process, handed to the
// dispatcher (as a Querier) and the transport's health server (as a Pinger).
type Pool struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger

	queries atomic.Uint64
	errors  atomic.Uint64
	totalMs atomic.Uint64
}

// Open parses connString, sizes the pool to poolSize, and pings once
// before returning so misconfiguration fails fast at startup.
func Open(ctx context.Context, connString string, poolSize int, log *zap.SugaredLogger) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Pool{pool: pool, log: log}, nil
}

// Close releases every connection in the pool.
func (p *Pool) Close() { p.pool.Close() }

// Ping implements transport.Pinger for the /readyz probe.
func (p *Pool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// QueryRows implements dispatcher.Querier: run sql, decode every returned
// row into a rowvalue.Row sharing one column-name slice, and fold the call
// into the running query/error/latency counters the stats ticker reports.
func (p *Pool) QueryRows(ctx context.Context, sql string) ([]rowvalue.Row, error) {
	start := time.Now()

	rows, err := p.pool.Query(ctx, sql)
	if err != nil {
		p.errors.Add(1)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	oids := make([]uint32, len(fields))
	for i, f := range fields {
		cols[i] = string(f.Name)
		oids[i] = f.DataTypeOID
	}

	var out []rowvalue.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			p.errors.Add(1)
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rvs := make([]rowvalue.Value, len(vals))
		for i, v := range vals {
			rvs[i] = toRowValue(v, oids[i])
		}
		out = append(out, rowvalue.NewRow(cols, rvs))
	}
	if err := rows.Err(); err != nil {
		p.errors.Add(1)
		return nil, fmt.Errorf("row iteration: %w", err)
	}

	elapsed := time.Since(start)
	p.queries.Add(1)
	p.totalMs.Add(uint64(elapsed.Milliseconds()))
	if elapsed > slowQueryThreshold && p.log != nil {
		p.log.Debugw("slow query", "duration", elapsed, "sql", truncateSQL(sql, 80))
	}
	return out, nil
}

func truncateSQL(sql string, n int) string {
	if len(sql) <= n {
		return sql
	}
	return sql[:n] + "..."
}
