package query

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pulsewire-io/pulsewire/internal/cache"
)

type memCacheConfig struct {
	ttls map[string]int64
}

func (m *memCacheConfig) TTLFor(ctx context.Context, module string) (int64, bool, error) {
	seconds, ok := m.ttls[module]
	return seconds, ok, nil
}

func (m *memCacheConfig) SetTTL(ctx context.Context, module string, seconds int64) error {
	m.ttls[module] = seconds
	return nil
}

func (m *memCacheConfig) List(ctx context.Context) (map[string]int64, error) {
	return m.ttls, nil
}

type adminFixture struct {
	config    *memCacheConfig
	artifacts *memArtifacts
	cache     *cache.Service
	router    *gin.Engine
}

func newAdminFixture() *adminFixture {
	gin.SetMode(gin.TestMode)

	f := &adminFixture{
		config:    &memCacheConfig{ttls: make(map[string]int64)},
		artifacts: newMemArtifacts(),
	}
	f.cache = cache.NewService(f.artifacts, f.config, time.Second)

	admin := NewAdmin(f.config, f.cache)
	f.router = gin.New()
	admin.RegisterRoutes(f.router)
	return f
}

func (f *adminFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestHandleListCacheConfig(t *testing.T) {
	f := newAdminFixture()
	f.config.ttls["trending"] = 300

	resp := f.do(t, http.MethodGet, "/v1/admin/cache-config", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var result struct {
		Overrides map[string]int64 `json:"overrides"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, int64(300), result.Overrides["trending"])
}

func TestHandleSetCacheConfig(t *testing.T) {
	f := newAdminFixture()

	// Pre-existing artifact in the module being reconfigured must be purged.
	_, err := f.cache.Put(context.Background(), cache.CategoryTrending, "", nil, json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	resp := f.do(t, http.MethodPut, "/v1/admin/cache-config", map[string]any{
		"module":      "trending",
		"ttl_seconds": 600,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, int64(600), f.config.ttls["trending"])

	_, hit, err := f.cache.Get(context.Background(), cache.CategoryTrending, "", nil)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestHandleSetCacheConfig_RejectsBadBodies(t *testing.T) {
	f := newAdminFixture()

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing module", body: map[string]any{"ttl_seconds": 600}},
		{name: "missing ttl", body: map[string]any{"module": "trending"}},
		{name: "negative ttl", body: map[string]any{"module": "trending", "ttl_seconds": -5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPut, "/v1/admin/cache-config", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestHandlePurge(t *testing.T) {
	f := newAdminFixture()

	_, err := f.cache.Put(context.Background(), cache.CategoryRelated, "bitcoin", nil, json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	_, err = f.cache.Put(context.Background(), cache.CategoryRelated, "crypto", nil, json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/v1/admin/cache/purge", map[string]any{
		"category":   "related_tags",
		"identifier": "bitcoin",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	_, hit, err := f.cache.Get(context.Background(), cache.CategoryRelated, "bitcoin", nil)
	require.NoError(t, err)
	require.False(t, hit)

	_, hit, err = f.cache.Get(context.Background(), cache.CategoryRelated, "crypto", nil)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestHandlePurge_RequiresCategory(t *testing.T) {
	f := newAdminFixture()

	resp := f.do(t, http.MethodPost, "/v1/admin/cache/purge", map[string]any{"identifier": "bitcoin"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
