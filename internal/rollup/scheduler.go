package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	"github.com/pulsewire-io/pulsewire/internal/graph"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const shutdownDrainTimeout = 30 * time.Second

// TrendPass is the trending classification step of a cycle.
// Satisfied by *trend.Scorer.
type TrendPass interface {
	RunPass(ctx context.Context) (flagged int, err error)
}

// Scheduler runs the full recompute cycle on a periodic interval: stale
// rollups, source metrics, graph rebuilds for active tags, the trending
// pass, then cache invalidation for everything that changed. It is
// stateless; each tick independently discovers its work from the stores.
type Scheduler struct {
	interval   time.Duration
	aggregator *Aggregator
	builder    *graph.Builder
	trend      TrendPass
	cache      *cache.Service
	content    storage.ContentStore
	batchOpts  BatchOptions
}

// NewScheduler creates the cycle scheduler.
func NewScheduler(
	interval time.Duration,
	aggregator *Aggregator,
	builder *graph.Builder,
	trend TrendPass,
	cacheSvc *cache.Service,
	content storage.ContentStore,
	batchOpts BatchOptions,
) *Scheduler {
	return &Scheduler{
		interval:   interval,
		aggregator: aggregator,
		builder:    builder,
		trend:      trend,
		cache:      cacheSvc,
		content:    content,
		batchOpts:  batchOpts.normalized(),
	}
}

// Start begins periodic recompute cycles. Runs until context is cancelled,
// then performs one final cycle so shutdown leaves fresh state behind.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting recompute scheduler",
		"interval", s.interval,
		"workers", s.batchOpts.WorkerCount,
		"max_refs_per_cycle", s.batchOpts.MaxRefsPerCycle,
	)

	// Initial cycle catches up with whatever went stale while we were down.
	s.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			defer cancel()

			slog.Info("[Scheduler] Running final cycle before shutdown...")
			s.runCycle(shutdownCtx)
			slog.Info("[Scheduler] Final cycle complete")

			return nil
		}
	}
}

// runCycle executes one full pass. Each step is independent: a failing step
// is logged and the cycle moves on, so one broken stage cannot starve the
// others until the next tick.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	stats, err := s.aggregator.RunBatch(ctx, s.batchOpts)
	if err != nil {
		slog.Error("[Scheduler] Rollup batch failed", "error", err)
	} else if stats.Recomputed > 0 {
		if err := s.cache.Invalidate(ctx, cache.CategoryGeo, ""); err != nil {
			slog.Warn("[Scheduler] Geo cache purge failed", "error", err)
		}
	}

	updated, failed, err := s.aggregator.RecomputeSourceMetrics(ctx)
	if err != nil {
		slog.Error("[Scheduler] Source metrics pass failed", "error", err)
	} else if updated > 0 {
		if err := s.cache.Invalidate(ctx, cache.CategorySourceRank, ""); err != nil {
			slog.Warn("[Scheduler] Source rank cache purge failed", "error", err)
		}
	}

	rebuilt := s.rebuildActiveGraphs(ctx)

	if _, err := s.trend.RunPass(ctx); err != nil {
		slog.Error("[Scheduler] Trend pass failed", "error", err)
	} else if err := s.cache.Invalidate(ctx, cache.CategoryTrending, ""); err != nil {
		slog.Warn("[Scheduler] Trending cache purge failed", "error", err)
	}

	slog.Info("[Scheduler] Cycle complete",
		"rollups_recomputed", stats.Recomputed,
		"rollups_failed", stats.Failed,
		"sources_updated", updated,
		"sources_failed", failed,
		"graphs_rebuilt", rebuilt,
		"duration", time.Since(start),
	)
}

// rebuildActiveGraphs refreshes the tag graph for every tag with recent
// activity and purges its related-tags cache entries.
func (s *Scheduler) rebuildActiveGraphs(ctx context.Context) int {
	activeSince := time.Now().UTC().Add(-s.builder.Lookback())
	tagIDs, err := s.content.ActiveTagIDs(ctx, activeSince, s.batchOpts.MaxRefsPerCycle)
	if err != nil {
		slog.Error("[Scheduler] Active tag scan failed", "error", err)
		return 0
	}

	rebuilt := 0
	for _, id := range tagIDs {
		if ctx.Err() != nil {
			return rebuilt
		}
		if _, err := s.builder.Rebuild(ctx, graph.ScopeTag, id); err != nil {
			slog.Error("[Scheduler] Graph rebuild failed", "tag_id", id, "error", err)
			continue
		}
		rebuilt++

		tag, err := s.content.TagByID(ctx, id)
		if err != nil {
			slog.Warn("[Scheduler] Related cache purge skipped, tag lookup failed",
				"tag_id", id, "error", err)
			continue
		}
		if err := s.cache.Invalidate(ctx, cache.CategoryRelated, tag.Slug); err != nil {
			slog.Warn("[Scheduler] Related cache purge failed", "tag", tag.Slug, "error", err)
		}
	}
	return rebuilt
}
