package rollup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/core/window"
	"github.com/pulsewire-io/pulsewire/internal/metrics"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	defaultWorkerCount     = 8
	defaultStalenessThresh = 15 * time.Minute
	defaultMaxRefsPerCycle = 2000
)

// BatchOptions controls one recompute cycle.
type BatchOptions struct {
	WorkerCount        int
	StalenessThreshold time.Duration
	MaxRefsPerCycle    int
}

func (o BatchOptions) normalized() BatchOptions {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.StalenessThreshold <= 0 {
		n.StalenessThreshold = defaultStalenessThresh
	}
	if n.MaxRefsPerCycle <= 0 {
		n.MaxRefsPerCycle = defaultMaxRefsPerCycle
	}
	return n
}

// CycleStats summarizes one batch pass.
type CycleStats struct {
	Recomputed int
	Failed     int
}

type recomputeUnit struct {
	scope  storage.RollupScope
	refID  int64
	window string
}

// RunBatch recomputes every stale (scope, ref, window) rollup. Units run on
// an errgroup-limited worker pool; a failing unit is logged, counted, and
// skipped — it never aborts the batch and is retried on the next cycle.
func (a *Aggregator) RunBatch(ctx context.Context, opts BatchOptions) (CycleStats, error) {
	opts = opts.normalized()
	now := a.now().UTC()
	cutoff := now.Add(-opts.StalenessThreshold)

	var units []recomputeUnit

	for _, win := range window.RollupWindows {
		dur, err := window.Parse(win)
		if err != nil {
			return CycleStats{}, err
		}
		activitySince := now.Add(-dur)

		// System-wide rollups have a single ref (0); check it directly.
		if stale, err := a.systemStale(ctx, win, cutoff); err != nil {
			return CycleStats{}, err
		} else if stale {
			units = append(units, recomputeUnit{storage.ScopeSystem, 0, win})
		}

		for _, scope := range []storage.RollupScope{storage.ScopeArticle, storage.ScopeTag} {
			refs, err := a.rollups.StaleRefs(ctx, scope, win, cutoff, activitySince, opts.MaxRefsPerCycle)
			if err != nil {
				return CycleStats{}, err
			}
			for _, ref := range refs {
				units = append(units, recomputeUnit{scope, ref, win})
			}
		}
	}

	if len(units) == 0 {
		slog.Debug("[Aggregator] Nothing stale this cycle")
		return CycleStats{}, nil
	}

	slog.Info("[Aggregator] Starting batch recompute",
		"units", len(units),
		"workers", opts.WorkerCount,
		"staleness_threshold", opts.StalenessThreshold,
	)

	results := make(chan bool, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.WorkerCount)

	for _, u := range units {
		g.Go(func() error {
			if _, err := a.Recompute(gctx, u.scope, u.refID, u.window); err != nil {
				// Partial-failure isolation: log and continue.
				slog.Error("[Aggregator] Recompute unit failed",
					"scope", u.scope, "ref_id", u.refID, "window", u.window,
					"error", err)
				metrics.RecomputeTotal.WithLabelValues("rollup", "failed").Inc()
				results <- false
				return nil
			}
			metrics.RecomputeTotal.WithLabelValues("rollup", "ok").Inc()
			results <- true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return CycleStats{}, err
	}
	close(results)

	var stats CycleStats
	for ok := range results {
		if ok {
			stats.Recomputed++
		} else {
			stats.Failed++
		}
	}

	slog.Info("[Aggregator] Batch complete",
		"recomputed", stats.Recomputed,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (a *Aggregator) systemStale(ctx context.Context, win string, cutoff time.Time) (bool, error) {
	total, err := a.rollups.Total(ctx, storage.ScopeSystem, 0, win)
	if err == coreerrors.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return total.ComputedAt.Before(cutoff), nil
}
