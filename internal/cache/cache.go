// Package cache is the TTL-keyed artifact store fronting expensive reads
// (related-tag lookups, trending lists, geo breakdowns). Concurrent misses
// for one key collapse into a single computation via singleflight; expired
// artifacts are either refreshed in the background while the stale copy is
// served, or recomputed synchronously, per category policy.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/metrics"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

// Categories the query façade caches under. Each doubles as the module name
// in cache_config TTL overrides.
const (
	CategoryTrending   = "trending"
	CategoryRelated    = "related_tags"
	CategoryGeo        = "geo_breakdown"
	CategorySourceRank = "source_rank"
)

// Default TTLs: rendered artifacts live a day, rollup-derived data follows
// the aggregation cadence. Both are overridable per deployment via
// cache_config rows or an explicit TTL argument.
const (
	DefaultRenderedTTL = 24 * time.Hour
	DefaultRollupTTL   = 15 * time.Minute
)

// Artifact is one cached payload.
type Artifact struct {
	KeyHash     string
	Category    string
	Identifier  string
	ParamsHash  string
	Payload     json.RawMessage
	GeneratedAt time.Time
	TTLSeconds  int64
}

// Expired reports whether the artifact is past its TTL at t.
func (a Artifact) Expired(t time.Time) bool {
	return t.After(a.GeneratedAt.Add(time.Duration(a.TTLSeconds) * time.Second))
}

// ArtifactStore persists artifacts. Implemented by the Postgres adapter and
// the Redis store; both treat writes as whole-row replacement per key.
type ArtifactStore interface {
	// Get returns the artifact for keyHash, expired or not.
	// coreerrors.ErrNotFound when no row exists.
	Get(ctx context.Context, keyHash string) (Artifact, error)

	// Put replaces the artifact for its key.
	Put(ctx context.Context, a Artifact) error

	// DeleteByOwner purges all artifacts for (category, identifier).
	// identifier "" purges the whole category.
	DeleteByOwner(ctx context.Context, category, identifier string) error
}

// Policy is the per-category expiry behaviour.
type Policy struct {
	DefaultTTL time.Duration
	// ServeStale: an expired artifact is returned immediately while a
	// background refresh runs. False means the refresh is synchronous.
	ServeStale bool
}

func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		CategoryTrending:   {DefaultTTL: DefaultRollupTTL, ServeStale: true},
		CategoryRelated:    {DefaultTTL: DefaultRenderedTTL, ServeStale: true},
		CategoryGeo:        {DefaultTTL: DefaultRollupTTL, ServeStale: false},
		CategorySourceRank: {DefaultTTL: DefaultRollupTTL, ServeStale: false},
	}
}

// Service coordinates lookups, computation collapse and TTL resolution.
type Service struct {
	store          ArtifactStore
	config         storage.CacheConfigStore
	computeTimeout time.Duration
	policies       map[string]Policy
	group          singleflight.Group
	now            func() time.Time
}

// NewService creates a cache service. computeTimeout bounds synchronous
// compute calls on the read path.
func NewService(store ArtifactStore, config storage.CacheConfigStore, computeTimeout time.Duration) *Service {
	if computeTimeout <= 0 {
		computeTimeout = 5 * time.Second
	}
	return &Service{
		store:          store,
		config:         config,
		computeTimeout: computeTimeout,
		policies:       defaultPolicies(),
		now:            time.Now,
	}
}

// Key derives the stable artifact key: hash(category, identifier,
// params_hash), where params_hash is a SHA-256 over the normalized
// (lower-cased, key-sorted) parameters.
func Key(category, identifier string, params map[string]string) (keyHash, paramsHash string) {
	paramsHash = hashParams(params)
	sum := sha256.Sum256([]byte(category + "\x00" + identifier + "\x00" + paramsHash))
	return fmt.Sprintf("%x", sum), paramsHash
}

// hashParams normalizes before sorting: pairs are lower-cased first so the
// concatenation order is decided by the normalized form, and casing variants
// of the same parameters always share one hash.
func hashParams(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, strings.ToLower(k)+"="+strings.ToLower(v))
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return fmt.Sprintf("%x", sum)
}

// Get returns the cached payload if present and inside its TTL.
func (s *Service) Get(ctx context.Context, category, identifier string, params map[string]string) (json.RawMessage, bool, error) {
	keyHash, _ := Key(category, identifier, params)
	art, err := s.store.Get(ctx, keyHash)
	if err == coreerrors.ErrNotFound {
		metrics.CacheRequests.WithLabelValues(category, "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if art.Expired(s.now().UTC()) {
		metrics.CacheRequests.WithLabelValues(category, "miss").Inc()
		return nil, false, nil
	}
	metrics.CacheRequests.WithLabelValues(category, "hit").Inc()
	return art.Payload, true, nil
}

// Put stores a payload. TTL resolution order: explicit ttl argument >
// per-category cache_config row > category policy default.
func (s *Service) Put(ctx context.Context, category, identifier string, params map[string]string, payload json.RawMessage, ttl time.Duration) (Artifact, error) {
	keyHash, paramsHash := Key(category, identifier, params)
	art := Artifact{
		KeyHash:     keyHash,
		Category:    category,
		Identifier:  identifier,
		ParamsHash:  paramsHash,
		Payload:     payload,
		GeneratedAt: s.now().UTC(),
		TTLSeconds:  int64(s.resolveTTL(ctx, category, ttl) / time.Second),
	}
	if err := s.store.Put(ctx, art); err != nil {
		return Artifact{}, fmt.Errorf("cache put %s/%s: %w", category, identifier, err)
	}
	return art, nil
}

func (s *Service) resolveTTL(ctx context.Context, category string, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if s.config != nil {
		if seconds, ok, err := s.config.TTLFor(ctx, category); err != nil {
			slog.Warn("[Cache] TTL config read failed, using default", "category", category, "error", err)
		} else if ok && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if p, ok := s.policies[category]; ok {
		return p.DefaultTTL
	}
	return DefaultRollupTTL
}

// Invalidate purges all artifacts for (category, identifier) — the logical
// purge used when an owning graph version or rollup changes.
func (s *Service) Invalidate(ctx context.Context, category, identifier string) error {
	return s.store.DeleteByOwner(ctx, category, identifier)
}

// GetOrCompute returns the cached payload, or computes and stores it.
// Concurrent callers missing the same key collapse into one compute; the
// rest share its result. An expired artifact is served as-is while a refresh
// runs in the background when the category policy allows, otherwise the
// refresh is synchronous and bounded by the compute timeout — on timeout or
// failure the expired artifact is the fallback, and only a first-ever miss
// surfaces ErrStaleUnavailable.
func (s *Service) GetOrCompute(ctx context.Context, category, identifier string, params map[string]string, compute func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	keyHash, _ := Key(category, identifier, params)
	nowUTC := s.now().UTC()

	var stale *Artifact
	art, err := s.store.Get(ctx, keyHash)
	switch {
	case err == nil && !art.Expired(nowUTC):
		metrics.CacheRequests.WithLabelValues(category, "hit").Inc()
		return art.Payload, nil
	case err == nil:
		stale = &art
	case err != coreerrors.ErrNotFound:
		return nil, fmt.Errorf("cache read %s/%s: %w", category, identifier, err)
	}

	policy := s.policies[category]
	if stale != nil && policy.ServeStale {
		metrics.CacheRequests.WithLabelValues(category, "stale").Inc()
		s.refreshAsync(keyHash, category, identifier, params, compute)
		return stale.Payload, nil
	}

	payload, err, shared := s.group.Do(keyHash, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(ctx, s.computeTimeout)
		defer cancel()

		result, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		if _, err := s.Put(ctx, category, identifier, params, result, 0); err != nil {
			// The result is still good; losing the write only costs a
			// recompute on the next miss.
			slog.Warn("[Cache] Artifact write failed", "category", category, "identifier", identifier, "error", err)
		}
		return result, nil
	})
	if shared {
		metrics.CacheRequests.WithLabelValues(category, "collapsed").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues(category, "miss").Inc()
	}

	if err != nil {
		if stale != nil {
			slog.Warn("[Cache] Compute failed, serving stale artifact",
				"category", category, "identifier", identifier, "error", err)
			metrics.CacheRequests.WithLabelValues(category, "stale").Inc()
			return stale.Payload, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, coreerrors.ErrStaleUnavailable
		}
		return nil, err
	}
	return payload.(json.RawMessage), nil
}

// refreshAsync kicks a background recompute for an expired key. The
// singleflight group keys it with a refresh prefix so overlapping stale
// reads trigger exactly one refresh.
func (s *Service) refreshAsync(keyHash, category, identifier string, params map[string]string, compute func(ctx context.Context) (json.RawMessage, error)) {
	go func() {
		_, _, _ = s.group.Do("refresh:"+keyHash, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), s.computeTimeout)
			defer cancel()

			result, err := compute(ctx)
			if err != nil {
				slog.Warn("[Cache] Background refresh failed",
					"category", category, "identifier", identifier, "error", err)
				return nil, err
			}
			if _, err := s.Put(ctx, category, identifier, params, result, 0); err != nil {
				slog.Warn("[Cache] Background refresh write failed",
					"category", category, "identifier", identifier, "error", err)
			}
			return nil, nil
		})
	}()
}
