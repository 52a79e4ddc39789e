// Package storage defines the store interfaces and shared row types the
// aggregation core reads and writes. Concrete adapters live in
// storage/postgres; collaborators own the content tables (tags, articles,
// sources) and the core only touches them through the narrow reads here.
package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/pulsewire-io/pulsewire/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same (kind, id) already exists.
var ErrDuplicate = errors.New("event already exists")

// RollupScope is the dimension a rollup is computed over.
type RollupScope string

const (
	ScopeArticle RollupScope = "article"
	ScopeSystem  RollupScope = "system"
	ScopeTag     RollupScope = "tag"
)

// ValidRollupScope reports whether s names a known rollup scope.
func ValidRollupScope(s string) bool {
	switch RollupScope(s) {
	case ScopeArticle, ScopeSystem, ScopeTag:
		return true
	}
	return false
}

// GeoCount is one (country, region) cell of a rollup. Events without geo
// resolution land in the ("", "") cell, so the window total is always the
// plain sum over cells.
type GeoCount struct {
	CountryCode string `json:"country_code"`
	RegionCode  string `json:"region_code"`
	Views       int64  `json:"views"`
}

// RollupTotal is the summed count for one (scope, ref, window) key plus the
// time it was last recomputed.
type RollupTotal struct {
	Count      int64
	ComputedAt time.Time
}

// TagRef is the minimal tag projection served by the query façade.
type TagRef struct {
	ID      int64  `json:"tag_id"`
	Slug    string `json:"slug"`
	Display string `json:"display"`
}

// SourceMetrics is the 30-day per-source rollup backing the sourceRank query.
type SourceMetrics struct {
	SourceID    int64     `json:"-"`
	Domain      string    `json:"domain"`
	Articles30d int64     `json:"articles_30d"`
	Clicks30d   int64     `json:"clicks_30d"`
	Rank30d     float64   `json:"rank_30d"`
	ComputedAt  time.Time `json:"-"`
}

// EventStore persists and reads interaction events.
type EventStore interface {
	// SaveEvent appends one event and populates event.IngestSeq.
	// Returns ErrDuplicate when (kind, id) was already recorded.
	SaveEvent(ctx context.Context, event *v1.Event) error

	// CollectGeoCounts counts click/impression events for one rollup key,
	// grouped by (country, region), over [from, now]. For ScopeSystem refID
	// is ignored; for ScopeTag the count covers clicks on articles carrying
	// the tag plus tag_assign events on the tag itself.
	CollectGeoCounts(ctx context.Context, scope RollupScope, refID int64, from time.Time) ([]GeoCount, error)

	// RetrieveEventsAfterCursor fetches events after a cursor (ingest_seq)
	// in strict total order. cursor=0 means "from the beginning".
	RetrieveEventsAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.Event, error)
}

// RollupStore persists windowed rollup rows.
type RollupStore interface {
	// Replace atomically swaps all rows for one (scope, ref, window) key.
	// Readers observe either the previous or the new row set, never a mix.
	Replace(ctx context.Context, scope RollupScope, refID int64, window string, counts []GeoCount, computedAt time.Time) error

	// Total sums the rows for one key. ErrNotFound when never computed.
	Total(ctx context.Context, scope RollupScope, refID int64, window string) (RollupTotal, error)

	// GeoBreakdown returns the per-(country, region) rows for one key,
	// ordered by views descending then country/region ascending.
	GeoBreakdown(ctx context.Context, scope RollupScope, refID int64, window string) ([]GeoCount, error)

	// StaleRefs returns refs of the given scope with event activity since
	// activitySince whose rollup for window is missing or computed before
	// cutoff. Used by the batch cycle to pick work.
	StaleRefs(ctx context.Context, scope RollupScope, window string, cutoff, activitySince time.Time, limit int) ([]int64, error)
}

// ContentStore is the narrow read/write surface over collaborator-owned
// content tables that the core needs.
type ContentStore interface {
	// FindTagBySlug resolves a normalized slug, falling back to tag_aliases.
	// ErrNotFound when neither matches.
	FindTagBySlug(ctx context.Context, slug string) (TagRef, error)

	// TagByID returns the tag row for id. ErrNotFound when missing.
	TagByID(ctx context.Context, id int64) (TagRef, error)

	// CoOccurrences enumerates tags co-occurring with tagID on articles
	// tagged since the given time: shared article count per tag plus each
	// tag's own occurrence count among the qualifying articles. The result
	// includes a row for tagID itself (Shared == Occurrences == number of
	// qualifying articles), which the graph builder uses as the root node
	// weight.
	CoOccurrences(ctx context.Context, tagID int64, since time.Time, limit int) ([]CoOccurrence, error)

	// CuratedRelations returns alias (synonym) and parent (hierarchy)
	// relations for the tag, for merging into rebuilt graphs.
	CuratedRelations(ctx context.Context, tagID int64) ([]CuratedRelation, error)

	// ActiveTagIDs returns tags with any event activity since the given
	// time, the working set for trend scoring and graph rebuilds.
	ActiveTagIDs(ctx context.Context, since time.Time, limit int) ([]int64, error)

	// UpdateTrendingFlags sets is_trending true for the given set and false
	// for every other tag, in one statement. Tags in retain keep whatever
	// flag they have — the scorer passes the tags whose classification
	// failed this pass so they are retried, not cleared. Owned by the trend
	// scorer; nothing else writes this flag.
	UpdateTrendingFlags(ctx context.Context, trending, retain []int64) error

	// TrendingTags lists flagged tags ordered by their rollup count for the
	// window, descending, ties by id ascending.
	TrendingTags(ctx context.Context, window string, limit int) ([]TagRef, error)

	// SourceMetricsByDomain returns the 30d metrics row for a domain.
	// ErrNotFound when the domain is unknown or never computed.
	SourceMetricsByDomain(ctx context.Context, domain string) (SourceMetrics, error)

	// TopSources lists sources ordered by rank_30d descending.
	TopSources(ctx context.Context, limit int) ([]SourceMetrics, error)

	// SourceActivity30d counts articles fetched and clicks received per
	// source over the trailing 30 days.
	SourceActivity30d(ctx context.Context) ([]SourceActivity, error)

	// ReplaceSourceMetrics swaps the metrics row for one source.
	ReplaceSourceMetrics(ctx context.Context, m SourceMetrics) error
}

// CoOccurrence is one co-occurring tag observed while enumerating a scope.
type CoOccurrence struct {
	TagID       int64
	Slug        string
	Display     string
	Shared      int64 // articles carrying both tags
	Occurrences int64 // articles carrying this tag within the scope
}

// CuratedRelation is an editorial synonym/hierarchy relation between tags.
type CuratedRelation struct {
	Kind    string // "synonym" | "hierarchy"
	TagID   int64
	Slug    string
	Display string
}

// SourceActivity is the raw 30d input to source ranking.
type SourceActivity struct {
	SourceID    int64
	Domain      string
	Articles30d int64
	Clicks30d   int64
}

// CacheConfigStore reads and writes per-module TTL overrides.
type CacheConfigStore interface {
	// TTLFor returns the configured TTL for a module; ok=false when no
	// override row exists.
	TTLFor(ctx context.Context, module string) (seconds int64, ok bool, err error)

	// SetTTL upserts a module's TTL override.
	SetTTL(ctx context.Context, module string, seconds int64) error

	// List returns all overrides.
	List(ctx context.Context) (map[string]int64, error)
}
