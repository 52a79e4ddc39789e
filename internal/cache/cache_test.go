package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
)

type memArtifactStore struct {
	mu   sync.Mutex
	rows map[string]Artifact
	puts int
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{rows: make(map[string]Artifact)}
}

func (m *memArtifactStore) Get(ctx context.Context, keyHash string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	art, ok := m.rows[keyHash]
	if !ok {
		return Artifact{}, coreerrors.ErrNotFound
	}
	return art, nil
}

func (m *memArtifactStore) Put(ctx context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.KeyHash] = a
	m.puts++
	return nil
}

func (m *memArtifactStore) DeleteByOwner(ctx context.Context, category, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, art := range m.rows {
		if art.Category == category && (identifier == "" || art.Identifier == identifier) {
			delete(m.rows, key)
		}
	}
	return nil
}

type memConfigStore struct {
	ttls map[string]int64
}

func (m *memConfigStore) TTLFor(ctx context.Context, module string) (int64, bool, error) {
	seconds, ok := m.ttls[module]
	return seconds, ok, nil
}

func (m *memConfigStore) SetTTL(ctx context.Context, module string, seconds int64) error {
	m.ttls[module] = seconds
	return nil
}

func (m *memConfigStore) List(ctx context.Context) (map[string]int64, error) {
	return m.ttls, nil
}

func testService(store ArtifactStore, config *memConfigStore, now time.Time) *Service {
	s := NewService(store, nil, time.Second)
	if config != nil {
		s.config = config
	}
	s.now = func() time.Time { return now }
	return s
}

func TestKeyIsStableAcrossParamOrderAndCase(t *testing.T) {
	a, _ := Key(CategoryTrending, "", map[string]string{"window": "24h", "limit": "20"})
	b, _ := Key(CategoryTrending, "", map[string]string{"limit": "20", "WINDOW": "24H"})
	require.Equal(t, a, b)

	c, _ := Key(CategoryTrending, "", map[string]string{"window": "7d", "limit": "20"})
	require.NotEqual(t, a, c)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	params := map[string]string{"window": "24h"}
	payload := json.RawMessage(`{"tags":["bitcoin"]}`)

	_, err := s.Put(context.Background(), CategoryTrending, "", params, payload, 0)
	require.NoError(t, err)

	got, hit, err := s.Get(context.Background(), CategoryTrending, "", params)
	require.NoError(t, err)
	require.True(t, hit)
	require.JSONEq(t, string(payload), string(got))
}

func TestGetMissesAfterExpiry(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	params := map[string]string{"window": "24h"}
	_, err := s.Put(context.Background(), CategoryGeo, "article:1", params, json.RawMessage(`{}`), 10*time.Minute)
	require.NoError(t, err)

	_, hit, err := s.Get(context.Background(), CategoryGeo, "article:1", params)
	require.NoError(t, err)
	require.True(t, hit)

	s.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, hit, err = s.Get(context.Background(), CategoryGeo, "article:1", params)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestResolveTTLPrecedence(t *testing.T) {
	config := &memConfigStore{ttls: map[string]int64{CategoryTrending: 300}}
	s := testService(newMemArtifactStore(), config, time.Now())

	// Explicit argument wins over everything.
	require.Equal(t, time.Minute, s.resolveTTL(context.Background(), CategoryTrending, time.Minute))

	// cache_config override wins over the category default.
	require.Equal(t, 300*time.Second, s.resolveTTL(context.Background(), CategoryTrending, 0))

	// No override: category policy default.
	require.Equal(t, DefaultRenderedTTL, s.resolveTTL(context.Background(), CategoryRelated, 0))

	// Unknown category falls back to the rollup default.
	require.Equal(t, DefaultRollupTTL, s.resolveTTL(context.Background(), "unknown", 0))
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	store := newMemArtifactStore()
	s := testService(store, nil, time.Now())

	var computes atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (json.RawMessage, error) {
		computes.Add(1)
		<-release
		return json.RawMessage(`{"n":1}`), nil
	}

	const callers = 8
	results := make(chan json.RawMessage, callers)
	var started sync.WaitGroup
	for i := 0; i < callers; i++ {
		started.Add(1)
		go func() {
			started.Done()
			payload, err := s.GetOrCompute(context.Background(), CategoryTrending, "", nil, compute)
			require.NoError(t, err)
			results <- payload
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond) // let the goroutines reach the flight
	close(release)

	for i := 0; i < callers; i++ {
		require.JSONEq(t, `{"n":1}`, string(<-results))
	}
	// All callers either joined the one flight or hit the freshly-written
	// artifact; the computation never ran per-caller.
	require.Less(t, int(computes.Load()), callers)
}

func TestGetOrComputeServesStaleWhilePolicyAllows(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	params := map[string]string{"window": "24h"}
	_, err := s.Put(context.Background(), CategoryTrending, "", params, json.RawMessage(`{"v":"old"}`), time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }

	refreshed := make(chan struct{})
	payload, err := s.GetOrCompute(context.Background(), CategoryTrending, "", params, func(ctx context.Context) (json.RawMessage, error) {
		defer close(refreshed)
		return json.RawMessage(`{"v":"new"}`), nil
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":"old"}`, string(payload)) // stale copy served immediately

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}
}

func TestGetOrComputeSynchronousRefreshForStrictCategories(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	params := map[string]string{"window": "24h"}
	_, err := s.Put(context.Background(), CategoryGeo, "article:1", params, json.RawMessage(`{"v":"old"}`), time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }

	payload, err := s.GetOrCompute(context.Background(), CategoryGeo, "article:1", params, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"v":"new"}`), nil
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":"new"}`, string(payload))
}

func TestGetOrComputeFallsBackToStaleOnComputeFailure(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	params := map[string]string{"window": "24h"}
	_, err := s.Put(context.Background(), CategoryGeo, "article:1", params, json.RawMessage(`{"v":"old"}`), time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }

	payload, err := s.GetOrCompute(context.Background(), CategoryGeo, "article:1", params, func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("rollup store down")
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":"old"}`, string(payload))
}

func TestGetOrComputeFirstMissTimeoutIsStaleUnavailable(t *testing.T) {
	s := testService(newMemArtifactStore(), nil, time.Now())
	s.computeTimeout = 20 * time.Millisecond

	_, err := s.GetOrCompute(context.Background(), CategoryGeo, "article:1", nil, func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, coreerrors.ErrStaleUnavailable)
}

func TestGetOrComputeFirstMissErrorPropagates(t *testing.T) {
	s := testService(newMemArtifactStore(), nil, time.Now())

	boom := errors.New("boom")
	_, err := s.GetOrCompute(context.Background(), CategoryTrending, "", nil, func(ctx context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestInvalidateByCategoryAndIdentifier(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := newMemArtifactStore()
	s := testService(store, nil, now)

	_, err := s.Put(context.Background(), CategoryRelated, "bitcoin", nil, json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), CategoryRelated, "crypto", nil, json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(context.Background(), CategoryRelated, "bitcoin"))

	_, hit, err := s.Get(context.Background(), CategoryRelated, "bitcoin", nil)
	require.NoError(t, err)
	require.False(t, hit)

	_, hit, err = s.Get(context.Background(), CategoryRelated, "crypto", nil)
	require.NoError(t, err)
	require.True(t, hit)

	// Empty identifier purges the whole category.
	require.NoError(t, s.Invalidate(context.Background(), CategoryRelated, ""))
	_, hit, err = s.Get(context.Background(), CategoryRelated, "crypto", nil)
	require.NoError(t, err)
	require.False(t, hit)
}
