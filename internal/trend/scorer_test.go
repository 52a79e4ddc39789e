package trend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/core/tuning"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

type fakeRollups struct {
	totals map[string]storage.RollupTotal
	errs   map[string]error
}

func rollupKey(refID int64, win string) string {
	return fmt.Sprintf("tag/%d/%s", refID, win)
}

func (f *fakeRollups) Total(ctx context.Context, scope storage.RollupScope, refID int64, win string) (storage.RollupTotal, error) {
	key := rollupKey(refID, win)
	if err := f.errs[key]; err != nil {
		return storage.RollupTotal{}, err
	}
	total, ok := f.totals[key]
	if !ok {
		return storage.RollupTotal{}, coreerrors.ErrNotFound
	}
	return total, nil
}

func (f *fakeRollups) Replace(ctx context.Context, scope storage.RollupScope, refID int64, win string, counts []storage.GeoCount, computedAt time.Time) error {
	return nil
}

func (f *fakeRollups) GeoBreakdown(ctx context.Context, scope storage.RollupScope, refID int64, win string) ([]storage.GeoCount, error) {
	return nil, nil
}

func (f *fakeRollups) StaleRefs(ctx context.Context, scope storage.RollupScope, win string, cutoff, activitySince time.Time, limit int) ([]int64, error) {
	return nil, nil
}

type fakeRecomputer struct {
	totals map[string]storage.RollupTotal
	calls  []string
}

func (f *fakeRecomputer) Recompute(ctx context.Context, scope storage.RollupScope, refID int64, win string) (storage.RollupTotal, error) {
	key := rollupKey(refID, win)
	f.calls = append(f.calls, key)
	total, ok := f.totals[key]
	if !ok {
		return storage.RollupTotal{}, errors.New("no fixture for " + key)
	}
	return total, nil
}

type fakeTagLister struct {
	fakeContentNoop
	activeTags   []int64
	trendingSets [][]int64
	retainedSets [][]int64
}

func (f *fakeTagLister) ActiveTagIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	return f.activeTags, nil
}

func (f *fakeTagLister) UpdateTrendingFlags(ctx context.Context, trending, retain []int64) error {
	f.trendingSets = append(f.trendingSets, append([]int64(nil), trending...))
	f.retainedSets = append(f.retainedSets, append([]int64(nil), retain...))
	return nil
}

// fakeContentNoop fills the content surface the scorer never touches.
type fakeContentNoop struct{}

func (fakeContentNoop) FindTagBySlug(ctx context.Context, slug string) (storage.TagRef, error) {
	return storage.TagRef{}, coreerrors.ErrNotFound
}

func (fakeContentNoop) TagByID(ctx context.Context, id int64) (storage.TagRef, error) {
	return storage.TagRef{}, coreerrors.ErrNotFound
}

func (fakeContentNoop) CoOccurrences(ctx context.Context, tagID int64, since time.Time, limit int) ([]storage.CoOccurrence, error) {
	return nil, nil
}

func (fakeContentNoop) CuratedRelations(ctx context.Context, tagID int64) ([]storage.CuratedRelation, error) {
	return nil, nil
}

func (fakeContentNoop) ActiveTagIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	return nil, nil
}

func (fakeContentNoop) UpdateTrendingFlags(ctx context.Context, trending, retain []int64) error {
	return nil
}

func (fakeContentNoop) TrendingTags(ctx context.Context, window string, limit int) ([]storage.TagRef, error) {
	return nil, nil
}

func (fakeContentNoop) SourceMetricsByDomain(ctx context.Context, domain string) (storage.SourceMetrics, error) {
	return storage.SourceMetrics{}, coreerrors.ErrNotFound
}

func (fakeContentNoop) TopSources(ctx context.Context, limit int) ([]storage.SourceMetrics, error) {
	return nil, nil
}

func (fakeContentNoop) SourceActivity30d(ctx context.Context) ([]storage.SourceActivity, error) {
	return nil, nil
}

func (fakeContentNoop) ReplaceSourceMetrics(ctx context.Context, m storage.SourceMetrics) error {
	return nil
}

func testScorer(rollups storage.RollupStore, content storage.ContentStore, recompute Recomputer, now time.Time) *Scorer {
	s := NewScorer(rollups, content, recompute, tuning.Defaults().Trend, 15*time.Minute)
	s.now = func() time.Time { return now }
	return s
}

// Defaults: ratio threshold 3, minimum 24h count 10.
func TestDecide(t *testing.T) {
	s := testScorer(&fakeRollups{}, fakeContentNoop{}, &fakeRecomputer{}, time.Now())

	tests := []struct {
		name     string
		short24h int64
		total7d  int64
		want     bool
	}{
		{name: "well above baseline", short24h: 50, total7d: 35, want: true}, // daily 5, threshold 15
		{name: "exactly at threshold", short24h: 15, total7d: 35, want: false},
		{name: "just above threshold", short24h: 16, total7d: 35, want: true},
		{name: "below absolute floor", short24h: 9, total7d: 0, want: false},
		{name: "zero baseline at floor", short24h: 10, total7d: 0, want: true},
		{name: "high volume steady state", short24h: 100, total7d: 700, want: false}, // daily 100, no spike
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, s.decide(tc.short24h, tc.total7d))
		})
	}
}

func TestClassifyUsesFreshRollups(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rollups := &fakeRollups{totals: map[string]storage.RollupTotal{
		rollupKey(1, "24h"): {Count: 50, ComputedAt: now.Add(-time.Minute)},
		rollupKey(1, "7d"):  {Count: 35, ComputedAt: now.Add(-time.Minute)},
	}}
	recompute := &fakeRecomputer{}

	s := testScorer(rollups, fakeContentNoop{}, recompute, now)
	trending, err := s.Classify(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, trending)
	require.Empty(t, recompute.calls)
}

func TestClassifyRecomputesStaleOrMissingRollups(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	// 24h rollup is an hour old, 7d rollup was never computed.
	rollups := &fakeRollups{totals: map[string]storage.RollupTotal{
		rollupKey(1, "24h"): {Count: 2, ComputedAt: now.Add(-time.Hour)},
	}}
	recompute := &fakeRecomputer{totals: map[string]storage.RollupTotal{
		rollupKey(1, "24h"): {Count: 50, ComputedAt: now},
		rollupKey(1, "7d"):  {Count: 35, ComputedAt: now},
	}}

	s := testScorer(rollups, fakeContentNoop{}, recompute, now)
	trending, err := s.Classify(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, trending)
	require.Equal(t, []string{rollupKey(1, "24h"), rollupKey(1, "7d")}, recompute.calls)
}

func TestClassifyPropagatesReadErrors(t *testing.T) {
	rollups := &fakeRollups{errs: map[string]error{
		rollupKey(1, "24h"): errors.New("connection reset"),
	}}

	s := testScorer(rollups, fakeContentNoop{}, &fakeRecomputer{}, time.Now())
	_, err := s.Classify(context.Background(), 1)
	require.Error(t, err)
}

func TestRunPassWritesFullTrendingSet(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	content := &fakeTagLister{activeTags: []int64{1, 2, 3}}
	rollups := &fakeRollups{
		totals: map[string]storage.RollupTotal{
			// Tag 1 spikes, tag 2 is steady, tag 3 fails to read.
			rollupKey(1, "24h"): {Count: 50, ComputedAt: now},
			rollupKey(1, "7d"):  {Count: 35, ComputedAt: now},
			rollupKey(2, "24h"): {Count: 100, ComputedAt: now},
			rollupKey(2, "7d"):  {Count: 700, ComputedAt: now},
		},
		errs: map[string]error{
			rollupKey(3, "24h"): errors.New("boom"),
		},
	}

	s := testScorer(rollups, content, &fakeRecomputer{}, now)
	flagged, err := s.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	require.Len(t, content.trendingSets, 1)
	require.Equal(t, []int64{1}, content.trendingSets[0])
}

func TestRunPassRetainsFlagsOfFailedTags(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	content := &fakeTagLister{activeTags: []int64{1, 2, 3}}
	rollups := &fakeRollups{
		totals: map[string]storage.RollupTotal{
			rollupKey(1, "24h"): {Count: 50, ComputedAt: now},
			rollupKey(1, "7d"):  {Count: 35, ComputedAt: now},
			rollupKey(2, "24h"): {Count: 100, ComputedAt: now},
			rollupKey(2, "7d"):  {Count: 700, ComputedAt: now},
		},
		errs: map[string]error{
			rollupKey(3, "24h"): errors.New("connection reset"),
		},
	}

	s := testScorer(rollups, content, &fakeRecomputer{}, now)
	_, err := s.RunPass(context.Background())
	require.NoError(t, err)

	// Tag 3 could not be classified, so the write must not clear its flag:
	// it goes into the retained set and gets retried next pass.
	require.Len(t, content.retainedSets, 1)
	require.Equal(t, []int64{3}, content.retainedSets[0])
	require.NotContains(t, content.trendingSets[0], int64(3))
}

func TestRunPassWritesEmptySetWhenNothingTrends(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	content := &fakeTagLister{activeTags: []int64{2}}
	rollups := &fakeRollups{totals: map[string]storage.RollupTotal{
		rollupKey(2, "24h"): {Count: 100, ComputedAt: now},
		rollupKey(2, "7d"):  {Count: 700, ComputedAt: now},
	}}

	s := testScorer(rollups, content, &fakeRecomputer{}, now)
	flagged, err := s.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, flagged)

	// The write still happens so previously-trending tags get cleared.
	require.Len(t, content.trendingSets, 1)
	require.Empty(t, content.trendingSets[0])
}
