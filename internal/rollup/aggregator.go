// Package rollup recomputes windowed event counters. Rollups are always
// full recomputes over [now-window, now] that replace the stored rows —
// never incrementally mutated running totals — so deleted or corrected
// events can never cause drift.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pulsewire-io/pulsewire/internal/core/keylock"
	"github.com/pulsewire-io/pulsewire/internal/core/tuning"
	"github.com/pulsewire-io/pulsewire/internal/core/window"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

// Aggregator computes rollups and source metrics. Recomputes for the same
// (scope, ref, window) key are serialized; readers observe either the old or
// the new row set because Replace is one transaction.
type Aggregator struct {
	events  storage.EventStore
	rollups storage.RollupStore
	content storage.ContentStore
	params  tuning.Params
	locks   *keylock.KeyedMutex
	now     func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(events storage.EventStore, rollups storage.RollupStore, content storage.ContentStore, params tuning.Params) *Aggregator {
	return &Aggregator{
		events:  events,
		rollups: rollups,
		content: content,
		params:  params,
		locks:   keylock.New(),
		now:     time.Now,
	}
}

// Recompute rebuilds the rollup for one (scope, ref, window) key from the
// raw events inside [now-window, now] and replaces the stored rows.
// Idempotent: with no new events, a second call produces identical counts.
func (a *Aggregator) Recompute(ctx context.Context, scope storage.RollupScope, refID int64, win string) (storage.RollupTotal, error) {
	if !window.ValidRollup(win) {
		return storage.RollupTotal{}, fmt.Errorf("recompute: unsupported window %q", win)
	}
	dur, err := window.Parse(win)
	if err != nil {
		return storage.RollupTotal{}, err
	}

	key := fmt.Sprintf("%s/%d/%s", scope, refID, win)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	computedAt := a.now().UTC()
	from := computedAt.Add(-dur)

	counts, err := a.events.CollectGeoCounts(ctx, scope, refID, from)
	if err != nil {
		return storage.RollupTotal{}, fmt.Errorf("recompute %s: collect counts: %w", key, err)
	}

	if err := a.rollups.Replace(ctx, scope, refID, win, counts, computedAt); err != nil {
		return storage.RollupTotal{}, fmt.Errorf("recompute %s: replace rows: %w", key, err)
	}

	var total int64
	for _, c := range counts {
		total += c.Views
	}

	slog.Debug("[Aggregator] Recomputed rollup",
		"scope", scope, "ref_id", refID, "window", win,
		"cells", len(counts), "total", total)

	return storage.RollupTotal{Count: total, ComputedAt: computedAt}, nil
}

// RecomputeSourceMetrics rebuilds the 30-day per-source metrics and the
// composite rank. One source's failure is logged and skipped; the rest of
// the pass continues.
func (a *Aggregator) RecomputeSourceMetrics(ctx context.Context) (updated, failed int, err error) {
	activities, err := a.content.SourceActivity30d(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("source metrics: collect activity: %w", err)
	}

	computedAt := a.now().UTC()
	for _, act := range activities {
		m := storage.SourceMetrics{
			SourceID:    act.SourceID,
			Domain:      act.Domain,
			Articles30d: act.Articles30d,
			Clicks30d:   act.Clicks30d,
			Rank30d:     a.rankScore(act.Articles30d, act.Clicks30d),
			ComputedAt:  computedAt,
		}
		if err := a.content.ReplaceSourceMetrics(ctx, m); err != nil {
			failed++
			slog.Error("[Aggregator] Source metrics update failed",
				"source_id", act.SourceID, "domain", act.Domain, "error", err)
			continue
		}
		updated++
	}
	return updated, failed, nil
}

// rankScore is the normalized composite: raw = aw*articles + cw*clicks,
// score = raw / (1 + raw). Strictly monotonic in both inputs (for positive
// weights), deterministic, and bounded to [0, 1).
func (a *Aggregator) rankScore(articles, clicks int64) float64 {
	raw := a.params.SourceRank.ArticlesWeight.Mul(decimal.NewFromInt(articles)).
		Add(a.params.SourceRank.ClicksWeight.Mul(decimal.NewFromInt(clicks)))
	score := raw.Div(decimal.NewFromInt(1).Add(raw))
	f, _ := score.Float64()
	return f
}
