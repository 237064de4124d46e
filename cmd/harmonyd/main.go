// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bozzfozz/harmony-sub001/internal/admin"
	"github.com/bozzfozz/harmony-sub001/internal/cache"
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/dbclient"
	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/metadata"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/bozzfozz/harmony-sub001/internal/handlers"
	"github.com/bozzfozz/harmony-sub001/internal/ingest"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/bozzfozz/harmony-sub001/internal/reaper"
	"github.com/bozzfozz/harmony-sub001/internal/retrypolicy"
	"github.com/bozzfozz/harmony-sub001/internal/scheduler"
	"github.com/bozzfozz/harmony-sub001/internal/store"
	"github.com/bozzfozz/harmony-sub001/internal/watchlist"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var adminCmd string
	var adminState string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: all|admin")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&adminCmd, "admin-cmd", "", "Admin command: stats|list-jobs|list-dead-letters|requeue-dlq|purge-dlq")
	fs.StringVar(&adminState, "state", "pending", "Job state for list-jobs: pending|leased|dead|succeeded|failed")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	db, err := dbclient.New(cfg)
	if err != nil {
		logger.Fatal("db connect failed", obs.Err(err))
	}
	defer db.Close()

	if err := store.Migrate(db.DB); err != nil {
		logger.Fatal("migration failed", obs.Err(err))
	}

	if role == "admin" {
		runAdmin(context.Background(), db, cfg, logger, adminCmd, adminState)
		return
	}

	q := queue.New(db, logger)

	readyCheck := func(c context.Context) error { return db.PingContext(c) }
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.Watchlist.ShutdownGraceMS + 5*time.Second):
		}
	}()

	obs.StartQueueDepthUpdater(ctx, 2*time.Second, q.Depths, logger)

	policies := retrypolicy.New(cfg)

	gwSem := make(chan struct{}, cfg.Provider.MaxConcurrency)
	metadataClient := gateway.NewClient("metadata", cfg.Provider.Metadata, cfg.CircuitBreaker, gwSem, logger)
	peerClient := gateway.NewClient("peer", cfg.Provider.Peer, cfg.CircuitBreaker, gwSem, logger)
	metadataProvider := metadata.New(metadataClient)
	peerProvider := peer.New(peerClient)

	health := gateway.NewProviderHealthMonitor(cfg.Provider.CriticalProviders, logger)
	health.Register("metadata", func(c context.Context) (gateway.HealthStatus, error) { return metadataProvider.CheckHealth(c) })
	health.Register("peer", func(c context.Context) (gateway.HealthStatus, error) { return peerProvider.CheckHealth(c) })
	health.Start(ctx, time.Duration(cfg.Provider.HealthIntervalS)*time.Second)

	respCache, err := cache.New(cfg.Cache.MaxItems, cfg.Cache.EmitEvictEvents, logger)
	if err != nil {
		logger.Fatal("cache init failed", obs.Err(err))
	}

	d := dispatcher.New(q, policies, cfg.Orchestrator, logger)
	handlers.Register(d, &handlers.Deps{
		DB:       db,
		Store:    q,
		Metadata: metadataProvider,
		Peer:     peerProvider,
		Cache:    respCache,
		Config:   cfg,
		Log:      logger,
	})

	_ = ingest.New(db, q, cfg.Ingest, logger) // consumed by the HTTP ingest endpoint (out of scope here)

	sched := scheduler.New(q, d, cfg.Orchestrator, logger)
	go sched.Run(ctx)

	timer := watchlist.New(db, q, time.Duration(cfg.Watchlist.TimerIntervalS)*time.Second, cfg.Watchlist.MaxPerTick, logger)
	go timer.Run(ctx)

	reap := reaper.New(q, time.Duration(cfg.Orchestrator.VisibilityTimeoutS)*time.Second, logger)
	go reap.Run(ctx)

	logger.Info("harmonyd started", obs.String("version", version))
	<-ctx.Done()

	d.Shutdown(cfg.Watchlist.ShutdownGraceMS)
	logger.Info("harmonyd stopped")
}

// runAdmin dispatches a one-shot admin subcommand against the live
// database and prints the result as JSON to stdout.
func runAdmin(ctx context.Context, db *sqlx.DB, cfg *config.Config, logger *zap.Logger, cmd, state string) {
	var out any
	var err error

	switch cmd {
	case "stats":
		out, err = admin.Stats(ctx, db)
	case "list-jobs":
		out, err = admin.ListJobs(ctx, db, cfg.DLQ, state, 0, cfg.DLQ.PageSizeDefault)
	case "list-dead-letters":
		out, err = admin.ListDeadLetters(ctx, db, cfg.DLQ, 0, cfg.DLQ.PageSizeDefault)
	case "requeue-dlq":
		out, err = admin.RequeueDeadLetters(ctx, db, cfg.DLQ)
	case "purge-dlq":
		out, err = admin.PurgeDeadLetters(ctx, db, cfg.DLQ)
	default:
		fmt.Fprintf(os.Stderr, "unknown -admin-cmd %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("admin command failed", obs.String("cmd", cmd), obs.Err(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
}
