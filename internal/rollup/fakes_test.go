package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

// fakeContentStore is the minimal content surface the aggregator and
// scheduler tests need; unused reads return empty results.
type fakeContentStore struct {
	mu             sync.Mutex
	tags           map[int64]storage.TagRef
	activeTags     []int64
	activity       []storage.SourceActivity
	replaced       []storage.SourceMetrics
	failReplaceFor int64
	trendingSets   [][]int64
}

func (f *fakeContentStore) FindTagBySlug(ctx context.Context, slug string) (storage.TagRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range f.tags {
		if tag.Slug == slug {
			return tag, nil
		}
	}
	return storage.TagRef{}, coreerrors.ErrNotFound
}

func (f *fakeContentStore) TagByID(ctx context.Context, id int64) (storage.TagRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[id]
	if !ok {
		return storage.TagRef{}, coreerrors.ErrNotFound
	}
	return tag, nil
}

func (f *fakeContentStore) CoOccurrences(ctx context.Context, tagID int64, since time.Time, limit int) ([]storage.CoOccurrence, error) {
	return nil, nil
}

func (f *fakeContentStore) CuratedRelations(ctx context.Context, tagID int64) ([]storage.CuratedRelation, error) {
	return nil, nil
}

func (f *fakeContentStore) ActiveTagIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.activeTags) > limit {
		return append([]int64(nil), f.activeTags[:limit]...), nil
	}
	return append([]int64(nil), f.activeTags...), nil
}

func (f *fakeContentStore) UpdateTrendingFlags(ctx context.Context, trending, retain []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trendingSets = append(f.trendingSets, append([]int64(nil), trending...))
	return nil
}

func (f *fakeContentStore) TrendingTags(ctx context.Context, window string, limit int) ([]storage.TagRef, error) {
	return nil, nil
}

func (f *fakeContentStore) SourceMetricsByDomain(ctx context.Context, domain string) (storage.SourceMetrics, error) {
	return storage.SourceMetrics{}, coreerrors.ErrNotFound
}

func (f *fakeContentStore) TopSources(ctx context.Context, limit int) ([]storage.SourceMetrics, error) {
	return nil, nil
}

func (f *fakeContentStore) SourceActivity30d(ctx context.Context) ([]storage.SourceActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.SourceActivity(nil), f.activity...), nil
}

func (f *fakeContentStore) ReplaceSourceMetrics(ctx context.Context, m storage.SourceMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReplaceFor != 0 && m.SourceID == f.failReplaceFor {
		return fmt.Errorf("replace failed for source %d", m.SourceID)
	}
	f.replaced = append(f.replaced, m)
	return nil
}
