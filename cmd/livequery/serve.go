package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dosco/livequery/internal/config"
	"github.com/dosco/livequery/internal/db"
	"github.com/dosco/livequery/internal/dispatcher"
	"github.com/dosco/livequery/internal/queryanalysis"
	"github.com/dosco/livequery/internal/registry"
	"github.com/dosco/livequery/internal/replication"
	"github.com/dosco/livequery/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the livequery server",
		Run:   runServe,
	}
}

// runServe wires the database pool, subscription registry, WAL streamer,
// change dispatcher, NATS transport and HTTP health surface together and
// runs them until a shutdown signal.
func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("config: %s", err)
	}
	cfg.LogSummary(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DBURL, cfg.DBPoolSize, log)
	if err != nil {
		log.Fatalf("db: %s", err)
	}
	defer pool.Close()

	analyzer := queryanalysis.NewAnalyzer()
	reg := registry.NewManager(cfg.MaxSubscriptions, analyzer)

	trans, err := transport.Connect(cfg.TransportURL, cfg.TransportPrefix, cfg.ServerID, reg, pool, log)
	if err != nil {
		log.Fatalf("transport: %s", err)
	}

	disp := dispatcher.New(reg, pool, trans, log)
	streamer := replication.NewStreamer(cfg.DBURL, cfg.WALSlot, cfg.WALPublication, log)
	health := transport.NewHealthServer(cfg.HealthAddr, pool, trans)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return trans.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error { return streamer.Run(gctx, reg.HasTable, disp.Process) })
	g.Go(func() error { runCleanupTicker(gctx, cfg, reg); return nil })
	g.Go(func() error { runStatsTicker(gctx, cfg, streamer, disp, reg, pool, trans); return nil })

	<-gctx.Done()
	log.Info("shutting down")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnw("server exited with error", "error", err)
		}
	case <-time.After(cfg.ShutdownTimeout()):
		log.Warn("shutdown timed out, exiting anyway")
	}
}

func runCleanupTicker(ctx context.Context, cfg *config.Config, reg *registry.Manager) {
	ticker := time.NewTicker(cfg.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := reg.Cleanup(cfg.ClientTimeout())
			if len(expired) > 0 {
				log.Infow("reaped idle subscriptions", "count", len(expired))
			}
		}
	}
}

func runStatsTicker(ctx context.Context, cfg *config.Config, streamer *replication.Streamer, disp *dispatcher.Dispatcher, reg *registry.Manager, pool *db.Pool, trans *transport.Transport) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			subs, queries := reg.Stats()
			msgsIn, msgsOut := trans.Stats()
			dbStats := pool.Stats()
			log.Infow("stats",
				"subscriptions", subs,
				"shared_queries", queries,
				"requeries", disp.Stats.Requeries.Load(),
				"requeries_skipped", disp.Stats.Skipped.Load(),
				"wal_processed", streamer.Stats.Processed.Load(),
				"wal_reconnects", streamer.Stats.Reconnects.Load(),
				"msgs_in", msgsIn,
				"msgs_out", msgsOut,
				"db_queries", dbStats.Queries,
				"db_errors", dbStats.Errors,
				"db_avg_ms", dbStats.AvgQueryMs,
				"db_active_conns", dbStats.ActiveConns,
			)
		}
	}
}
