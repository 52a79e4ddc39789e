// Package trend classifies tags as trending by comparing their short-window
// activity against a rolling baseline. The scorer is the sole owner of the
// tags.is_trending flag: it derives the flag from rollups on every pass, and
// every other component treats it as read-only.
package trend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/core/tuning"
	"github.com/pulsewire-io/pulsewire/internal/core/window"
	"github.com/pulsewire-io/pulsewire/internal/metrics"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	shortWindow    = window.Day24h
	baselineWindow = window.Week7d
	baselineDays   = 7

	defaultMaxTagsPerPass = 2000
)

// Recomputer triggers a rollup recompute when the scorer finds its inputs
// stale. Satisfied by *rollup.Aggregator.
type Recomputer interface {
	Recompute(ctx context.Context, scope storage.RollupScope, refID int64, win string) (storage.RollupTotal, error)
}

// Scorer runs the trending classification pass.
type Scorer struct {
	rollups    storage.RollupStore
	content    storage.ContentStore
	recompute  Recomputer
	params     tuning.Trend
	staleAfter time.Duration
	maxTags    int
	now        func() time.Time
}

// NewScorer creates a scorer. staleAfter is the oldest rollup the scorer will
// accept as input; older rollups are recomputed before classification.
func NewScorer(rollups storage.RollupStore, content storage.ContentStore, recompute Recomputer, params tuning.Trend, staleAfter time.Duration) *Scorer {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Scorer{
		rollups:    rollups,
		content:    content,
		recompute:  recompute,
		params:     params,
		staleAfter: staleAfter,
		maxTags:    defaultMaxTagsPerPass,
		now:        time.Now,
	}
}

// Classify reports whether one tag is trending right now: its 24h count must
// exceed both the configured multiple of its 7d daily average and the
// absolute floor that keeps low-volume noise out.
func (s *Scorer) Classify(ctx context.Context, tagID int64) (bool, error) {
	short, err := s.freshTotal(ctx, tagID, shortWindow)
	if err != nil {
		return false, err
	}
	baseline, err := s.freshTotal(ctx, tagID, baselineWindow)
	if err != nil {
		return false, err
	}

	return s.decide(short.Count, baseline.Count), nil
}

func (s *Scorer) decide(short24h, total7d int64) bool {
	if short24h < s.params.MinCount {
		return false
	}

	// A tag with zero baseline and at least the floor is trending by
	// definition — its ratio is unbounded.
	if total7d == 0 {
		return true
	}

	dailyBaseline := decimal.NewFromInt(total7d).Div(decimal.NewFromInt(baselineDays))
	threshold := dailyBaseline.Mul(s.params.RatioThreshold)
	return decimal.NewFromInt(short24h).GreaterThan(threshold)
}

// freshTotal reads a tag rollup, recomputing it first when it is missing or
// older than the scorer's staleness tolerance. Trend decisions on stale
// counts are worse than a recompute on the read path here, because this
// path only runs in the batch cycle.
func (s *Scorer) freshTotal(ctx context.Context, tagID int64, win string) (storage.RollupTotal, error) {
	total, err := s.rollups.Total(ctx, storage.ScopeTag, tagID, win)
	if err == nil && s.now().UTC().Sub(total.ComputedAt) <= s.staleAfter {
		return total, nil
	}
	if err != nil && err != coreerrors.ErrNotFound {
		return storage.RollupTotal{}, fmt.Errorf("trend: read rollup tag/%d/%s: %w", tagID, win, err)
	}

	total, err = s.recompute.Recompute(ctx, storage.ScopeTag, tagID, win)
	if err != nil {
		return storage.RollupTotal{}, fmt.Errorf("trend: refresh rollup tag/%d/%s: %w", tagID, win, err)
	}
	return total, nil
}

// RunPass classifies every tag with recent activity and writes the full
// trending set back in one statement. A single tag's failure is logged and
// the tag is passed through as retained, so it keeps its previous
// classification until the next pass retries it.
func (s *Scorer) RunPass(ctx context.Context) (flagged int, err error) {
	activeSince := s.now().UTC().Add(-7 * 24 * time.Hour)
	tagIDs, err := s.content.ActiveTagIDs(ctx, activeSince, s.maxTags)
	if err != nil {
		return 0, fmt.Errorf("trend: list active tags: %w", err)
	}

	trending := make([]int64, 0, len(tagIDs))
	var failed []int64
	for _, id := range tagIDs {
		isTrending, err := s.Classify(ctx, id)
		if err != nil {
			failed = append(failed, id)
			slog.Error("[TrendScorer] Classification failed", "tag_id", id, "error", err)
			metrics.RecomputeTotal.WithLabelValues("trend", "failed").Inc()
			continue
		}
		if isTrending {
			trending = append(trending, id)
		}
	}

	if err := s.content.UpdateTrendingFlags(ctx, trending, failed); err != nil {
		return 0, fmt.Errorf("trend: write flags: %w", err)
	}

	metrics.TrendingTags.Set(float64(len(trending)))
	slog.Info("[TrendScorer] Pass complete",
		"active_tags", len(tagIDs),
		"trending", len(trending),
		"failures", len(failed),
	)
	return len(trending), nil
}
