package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	"github.com/pulsewire-io/pulsewire/internal/cache/redisstore"
	"github.com/pulsewire-io/pulsewire/internal/config"
	"github.com/pulsewire-io/pulsewire/internal/core/tuning"
	"github.com/pulsewire-io/pulsewire/internal/graph"
	"github.com/pulsewire-io/pulsewire/internal/ingestion"
	"github.com/pulsewire-io/pulsewire/internal/migrations"
	"github.com/pulsewire-io/pulsewire/internal/query"
	"github.com/pulsewire-io/pulsewire/internal/rollup"
	"github.com/pulsewire-io/pulsewire/internal/server"
	"github.com/pulsewire-io/pulsewire/internal/storage/postgres"
	"github.com/pulsewire-io/pulsewire/internal/trend"
)

func main() {
	configPath := flag.String("config", "pulsewire.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	cronInterval := mustDuration(cfg.Aggregation.CronInterval, "aggregation.cron_interval")
	stalenessThreshold := mustDuration(cfg.Aggregation.StalenessThreshold, "aggregation.staleness_threshold")
	graphLookback := mustDuration(cfg.Aggregation.GraphLookback, "aggregation.graph_lookback")
	computeTimeout := mustDuration(cfg.Cache.ComputeTimeout, "cache.compute_timeout")

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Load Tuning Parameters
	params, err := tuning.Load(cfg.Tuning.Dir)
	if err != nil {
		slog.Error("Failed to load tuning parameters", "dir", cfg.Tuning.Dir, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded tuning parameters",
		"trend_fingerprint", params.Trend.Fingerprint,
		"source_rank_fingerprint", params.SourceRank.Fingerprint,
	)

	// 4. Initialize Stores
	rollupStore := postgres.NewRollupAdapter(dbAdapter.DB())
	contentStore := postgres.NewContentAdapter(dbAdapter.DB())
	graphStore := postgres.NewGraphAdapter(dbAdapter.DB())
	cacheConfigStore := postgres.NewCacheConfigAdapter(dbAdapter.DB())

	// 5. Initialize Cache (Postgres or Redis artifact backend)
	var artifactStore cache.ArtifactStore = postgres.NewCacheAdapter(dbAdapter.DB())
	if cfg.Cache.Backend == "redis" {
		redisStore, err := redisstore.New(context.Background(), cfg.Cache.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to redis", "addr", cfg.Cache.RedisAddr, "error", err)
			os.Exit(1)
		}
		artifactStore = redisStore
	}
	cacheSvc := cache.NewService(artifactStore, cacheConfigStore, computeTimeout)
	slog.Info("Cache service initialized", "backend", cfg.Cache.Backend)

	// 6. Initialize Aggregation Core
	aggregator := rollup.NewAggregator(dbAdapter, rollupStore, contentStore, params)
	builder := graph.NewBuilder(graphStore, contentStore, graph.Options{
		Lookback:     graphLookback,
		MaxNodes:     cfg.Aggregation.GraphMaxNodes,
		MaxEdges:     cfg.Aggregation.GraphMaxEdges,
		KeepVersions: cfg.Aggregation.GraphKeepVersions,
	})
	scorer := trend.NewScorer(rollupStore, contentStore, aggregator, params.Trend, stalenessThreshold)

	batchOpts := rollup.BatchOptions{
		WorkerCount:        cfg.Aggregation.WorkerCount,
		StalenessThreshold: stalenessThreshold,
		MaxRefsPerCycle:    cfg.Aggregation.MaxRefsPerCycle,
	}
	scheduler := rollup.NewScheduler(cronInterval, aggregator, builder, scorer, cacheSvc, contentStore, batchOpts)

	slog.Info("Recompute scheduler initialized",
		"interval", cronInterval,
		"enabled", cfg.Aggregation.Enabled,
		"staleness_threshold", stalenessThreshold,
		"worker_count", cfg.Aggregation.WorkerCount,
	)

	// 7. Initialize Services
	ingestionSvc := ingestion.NewService(dbAdapter, cfg.Server.MaxBodySizeMB)
	querySvc := query.NewService(cacheSvc, contentStore, rollupStore, graphStore, builder, aggregator)
	adminSvc := query.NewAdmin(cacheConfigStore, cacheSvc)

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine)
	adminSvc.RegisterRoutes(srv.Engine)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Aggregation.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Recompute scheduler disabled by config")
	}

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func mustDuration(value, key string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Error("Invalid duration in config", "key", key, "value", value, "error", err)
		os.Exit(1)
	}
	return d
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
