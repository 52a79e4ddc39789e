// Package query is the read-side façade: every public lookup goes through
// the cache service, which collapses concurrent misses and serves stale
// artifacts per category policy, and falls back to bounded synchronous
// recomputes when nothing cached exists yet.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/core/window"
	"github.com/pulsewire-io/pulsewire/internal/graph"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ErrInvalidQuery marks request parameters that name no known window or
// scope. Handlers map it to 400.
var ErrInvalidQuery = errors.New("invalid query")

// Recomputer triggers a synchronous rollup recompute for a key that has
// never been materialized. Satisfied by *rollup.Aggregator.
type Recomputer interface {
	Recompute(ctx context.Context, scope storage.RollupScope, refID int64, win string) (storage.RollupTotal, error)
}

// Service answers the public read queries.
type Service struct {
	cache     *cache.Service
	content   storage.ContentStore
	rollups   storage.RollupStore
	graphs    graph.Store
	builder   *graph.Builder
	recompute Recomputer
	now       func() time.Time
}

// NewService creates the query service.
func NewService(
	cacheSvc *cache.Service,
	content storage.ContentStore,
	rollups storage.RollupStore,
	graphs graph.Store,
	builder *graph.Builder,
	recompute Recomputer,
) *Service {
	return &Service{
		cache:     cacheSvc,
		content:   content,
		rollups:   rollups,
		graphs:    graphs,
		builder:   builder,
		recompute: recompute,
		now:       time.Now,
	}
}

// TrendingResponse is the payload for GET /v1/tags/trending.
type TrendingResponse struct {
	Window      string           `json:"window"`
	Tags        []storage.TagRef `json:"tags"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// RelatedResponse is the payload for GET /v1/tags/related.
type RelatedResponse struct {
	Tag          storage.TagRef   `json:"tag"`
	Related      []graph.Neighbor `json:"related"`
	GraphVersion int              `json:"graph_version"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// GeoResponse is the payload for GET /v1/geo.
type GeoResponse struct {
	Scope       string             `json:"scope"`
	RefID       int64              `json:"ref_id"`
	Window      string             `json:"window"`
	Total       int64              `json:"total"`
	Cells       []storage.GeoCount `json:"cells"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// TopSourcesResponse is the payload for GET /v1/sources/top.
type TopSourcesResponse struct {
	Sources     []storage.SourceMetrics `json:"sources"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// Trending returns the currently flagged tags ordered by window activity.
// The 72h window has no materialized rollup of its own, so its ordering
// borrows the 24h counts; the flag itself is window-independent.
func (s *Service) Trending(ctx context.Context, win string, limit int) (json.RawMessage, error) {
	if !window.ValidTrending(win) {
		return nil, fmt.Errorf("%w: unsupported trending window %q", ErrInvalidQuery, win)
	}
	limit = clampLimit(limit)

	orderWindow := win
	if !window.ValidRollup(orderWindow) {
		orderWindow = window.Day24h
	}

	params := map[string]string{"window": win, "limit": strconv.Itoa(limit)}
	return s.cache.GetOrCompute(ctx, cache.CategoryTrending, "", params, func(ctx context.Context) (json.RawMessage, error) {
		tags, err := s.content.TrendingTags(ctx, orderWindow, limit)
		if err != nil {
			return nil, fmt.Errorf("trending query: %w", err)
		}
		if tags == nil {
			tags = []storage.TagRef{}
		}
		return json.Marshal(TrendingResponse{
			Window:      win,
			Tags:        tags,
			GeneratedAt: s.now().UTC(),
		})
	})
}

// RelatedTags returns the neighbors of a tag in its latest graph version.
// The slug is lower-cased before resolving through tag_aliases, and the cache
// identifier is the canonical slug so aliases and casing variants share one
// artifact. A tag with no graph yet gets a bounded synchronous rebuild; an
// unknown slug reads as an empty related set, not an error.
func (s *Service) RelatedTags(ctx context.Context, slug string, limit int) (json.RawMessage, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	limit = clampLimit(limit)

	tag, err := s.content.FindTagBySlug(ctx, slug)
	if errors.Is(err, coreerrors.ErrNotFound) {
		return s.emptyRelated(ctx, slug, limit)
	}
	if err != nil {
		return nil, err
	}

	params := map[string]string{"limit": strconv.Itoa(limit)}
	return s.cache.GetOrCompute(ctx, cache.CategoryRelated, tag.Slug, params, func(ctx context.Context) (json.RawMessage, error) {
		g, err := s.graphs.Latest(ctx, graph.ScopeTag, tag.ID)
		if err == coreerrors.ErrNotFound {
			g, err = s.builder.Rebuild(ctx, graph.ScopeTag, tag.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("related tags %q: %w", tag.Slug, err)
		}

		neighbors := []graph.Neighbor{}
		if g.NodeCount > 0 {
			neighbors, err = s.graphs.Neighbors(ctx, g.ID, tag.Slug, limit)
			if err != nil {
				return nil, fmt.Errorf("related tags %q: neighbors: %w", tag.Slug, err)
			}
			if neighbors == nil {
				neighbors = []graph.Neighbor{}
			}
		}
		return json.Marshal(RelatedResponse{
			Tag:          tag,
			Related:      neighbors,
			GraphVersion: g.Version,
			GeneratedAt:  s.now().UTC(),
		})
	})
}

// emptyRelated materializes (and caches) the empty related set for a slug
// that resolves to no tag, so repeated probes for unknown slugs stay cheap.
func (s *Service) emptyRelated(ctx context.Context, slug string, limit int) (json.RawMessage, error) {
	params := map[string]string{"limit": strconv.Itoa(limit)}
	return s.cache.GetOrCompute(ctx, cache.CategoryRelated, slug, params, func(ctx context.Context) (json.RawMessage, error) {
		return json.Marshal(RelatedResponse{
			Tag:         storage.TagRef{Slug: slug},
			Related:     []graph.Neighbor{},
			GeneratedAt: s.now().UTC(),
		})
	})
}

// GeoBreakdown returns the per-(country, region) view counts for one rollup
// key. A key that was never materialized is recomputed on the spot.
func (s *Service) GeoBreakdown(ctx context.Context, scope string, refID int64, win string) (json.RawMessage, error) {
	if !storage.ValidRollupScope(scope) {
		return nil, fmt.Errorf("%w: unsupported scope %q", ErrInvalidQuery, scope)
	}
	if !window.ValidRollup(win) {
		return nil, fmt.Errorf("%w: unsupported rollup window %q", ErrInvalidQuery, win)
	}
	rollupScope := storage.RollupScope(scope)

	identifier := scope + ":" + strconv.FormatInt(refID, 10)
	params := map[string]string{"window": win}
	return s.cache.GetOrCompute(ctx, cache.CategoryGeo, identifier, params, func(ctx context.Context) (json.RawMessage, error) {
		total, err := s.rollups.Total(ctx, rollupScope, refID, win)
		if err == coreerrors.ErrNotFound {
			total, err = s.recompute.Recompute(ctx, rollupScope, refID, win)
		}
		if err != nil {
			return nil, fmt.Errorf("geo breakdown %s/%s: %w", identifier, win, err)
		}

		cells, err := s.rollups.GeoBreakdown(ctx, rollupScope, refID, win)
		if err != nil {
			return nil, fmt.Errorf("geo breakdown %s/%s: %w", identifier, win, err)
		}
		if cells == nil {
			cells = []storage.GeoCount{}
		}
		return json.Marshal(GeoResponse{
			Scope:       scope,
			RefID:       refID,
			Window:      win,
			Total:       total.Count,
			Cells:       cells,
			GeneratedAt: s.now().UTC(),
		})
	})
}

// SourceRank returns the 30-day metrics for one source domain. An unknown
// domain reads as zeroed metrics, not an error.
func (s *Service) SourceRank(ctx context.Context, domain string) (json.RawMessage, error) {
	params := map[string]string{"domain": domain}
	return s.cache.GetOrCompute(ctx, cache.CategorySourceRank, domain, params, func(ctx context.Context) (json.RawMessage, error) {
		m, err := s.content.SourceMetricsByDomain(ctx, domain)
		if errors.Is(err, coreerrors.ErrNotFound) {
			m = storage.SourceMetrics{Domain: domain}
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("source rank %q: %w", domain, err)
		}
		return json.Marshal(m)
	})
}

// TopSources returns sources ordered by their 30-day composite rank.
func (s *Service) TopSources(ctx context.Context, limit int) (json.RawMessage, error) {
	limit = clampLimit(limit)
	params := map[string]string{"limit": strconv.Itoa(limit)}
	return s.cache.GetOrCompute(ctx, cache.CategorySourceRank, "top", params, func(ctx context.Context) (json.RawMessage, error) {
		sources, err := s.content.TopSources(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("top sources: %w", err)
		}
		if sources == nil {
			sources = []storage.SourceMetrics{}
		}
		return json.Marshal(TopSourcesResponse{
			Sources:     sources,
			GeneratedAt: s.now().UTC(),
		})
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
