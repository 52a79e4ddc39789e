package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	queryTagBySlug = `
		SELECT id, slug, display FROM tags WHERE slug = $1
	`

	queryTagByAlias = `
		SELECT t.id, t.slug, t.display
		FROM tags t
		JOIN tag_aliases a ON a.tag_id = t.id
		WHERE a.alias = $1
	`

	queryTagByID = `
		SELECT id, slug, display FROM tags WHERE id = $1
	`

	// Articles tagged with the root tag since the cutoff, then tag counts
	// over that article set. The root tag itself comes back as a row whose
	// count equals the size of the article set.
	queryCoOccurrences = `
		WITH scoped AS (
			SELECT article_id
			FROM article_tags
			WHERE tag_id = $1 AND created_at >= $2
		)
		SELECT t.id, t.slug, t.display, COUNT(DISTINCT at.article_id) AS shared
		FROM article_tags at
		JOIN scoped s ON s.article_id = at.article_id
		JOIN tags t ON t.id = at.tag_id
		GROUP BY t.id, t.slug, t.display
		ORDER BY shared DESC, t.id ASC
		LIMIT $3
	`

	queryCuratedRelations = `
		SELECT 'hierarchy' AS kind, p.id, p.slug, p.display
		FROM tags t
		JOIN tags p ON p.id = t.parent_id
		WHERE t.id = $1
		UNION ALL
		SELECT 'synonym' AS kind, o.id, o.slug, o.display
		FROM tag_aliases a
		JOIN tags o ON o.id = a.tag_id
		WHERE a.alias = (SELECT slug FROM tags WHERE id = $1)
		  AND o.id <> $1
	`

	queryActiveTagIDs = `
		SELECT DISTINCT active.tag_id
		FROM (
			SELECT subject_id AS tag_id
			FROM events
			WHERE subject_type = 'tag' AND occurred_at >= $1
			UNION
			SELECT at.tag_id
			FROM events e
			JOIN article_tags at ON at.article_id = e.subject_id
			WHERE e.subject_type = 'article' AND e.occurred_at >= $1
		) active
		JOIN tags t ON t.id = active.tag_id
		ORDER BY active.tag_id ASC
		LIMIT $2
	`

	// One statement: flag the given set, clear everything else except the
	// retained tags, which keep their current flag. The WHERE clause keeps
	// the write set to rows actually changing.
	queryUpdateTrendingFlags = `
		UPDATE tags
		SET is_trending = (id = ANY($1)), updated_at = $3
		WHERE is_trending <> (id = ANY($1))
		  AND NOT (id = ANY($2))
	`

	queryTrendingTags = `
		SELECT t.id, t.slug, t.display
		FROM tags t
		LEFT JOIN rollups r
			ON r.scope = 'tag' AND r.ref_id = t.id AND r."window" = $1
		WHERE t.is_trending
		GROUP BY t.id, t.slug, t.display
		ORDER BY COALESCE(SUM(r.count), 0) DESC, t.id ASC
		LIMIT $2
	`

	querySourceMetricsByDomain = `
		SELECT s.id, s.domain,
			COALESCE(m.articles_30d, 0),
			COALESCE(m.clicks_30d, 0),
			COALESCE(m.rank_30d, 0),
			COALESCE(m.computed_at, s.created_at)
		FROM sources s
		LEFT JOIN source_metrics_30d m ON m.source_id = s.id
		WHERE s.domain = $1
		ORDER BY m.rank_30d DESC NULLS LAST
		LIMIT 1
	`

	queryTopSources = `
		SELECT s.id, s.domain, m.articles_30d, m.clicks_30d, m.rank_30d, m.computed_at
		FROM source_metrics_30d m
		JOIN sources s ON s.id = m.source_id
		ORDER BY m.rank_30d DESC, s.id ASC
		LIMIT $1
	`

	querySourceActivity30d = `
		SELECT s.id, s.domain,
			COUNT(DISTINCT a.id) AS articles_30d,
			COUNT(e.ingest_seq) AS clicks_30d
		FROM sources s
		LEFT JOIN articles a
			ON a.source_id = s.id AND a.created_at >= $1
		LEFT JOIN events e
			ON e.subject_type = 'article' AND e.kind = 'click'
			AND e.subject_id = a.id AND e.occurred_at >= $1
		GROUP BY s.id, s.domain
		ORDER BY s.id ASC
	`

	queryReplaceSourceMetrics = `
		INSERT INTO source_metrics_30d (source_id, articles_30d, clicks_30d, rank_30d, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			articles_30d = EXCLUDED.articles_30d,
			clicks_30d   = EXCLUDED.clicks_30d,
			rank_30d     = EXCLUDED.rank_30d,
			computed_at  = EXCLUDED.computed_at
	`
)

// ContentAdapter implements storage.ContentStore using PostgreSQL. It is the
// only place the aggregation core touches the collaborator-owned content
// tables (tags, articles, sources).
type ContentAdapter struct {
	db *sql.DB
}

// NewContentAdapter creates a ContentAdapter sharing the given connection.
func NewContentAdapter(db *sql.DB) *ContentAdapter {
	return &ContentAdapter{db: db}
}

// FindTagBySlug resolves a normalized slug, falling back to tag_aliases.
func (a *ContentAdapter) FindTagBySlug(ctx context.Context, slug string) (storage.TagRef, error) {
	var tag storage.TagRef
	err := a.db.QueryRowContext(ctx, queryTagBySlug, slug).Scan(&tag.ID, &tag.Slug, &tag.Display)
	if err == sql.ErrNoRows {
		err = a.db.QueryRowContext(ctx, queryTagByAlias, slug).Scan(&tag.ID, &tag.Slug, &tag.Display)
		if err == sql.ErrNoRows {
			return storage.TagRef{}, coreerrors.ErrNotFound
		}
	}
	if err != nil {
		return storage.TagRef{}, fmt.Errorf("failed to resolve tag slug %q: %w", slug, err)
	}
	return tag, nil
}

// TagByID returns the tag row for id.
func (a *ContentAdapter) TagByID(ctx context.Context, id int64) (storage.TagRef, error) {
	var tag storage.TagRef
	err := a.db.QueryRowContext(ctx, queryTagByID, id).Scan(&tag.ID, &tag.Slug, &tag.Display)
	if err == sql.ErrNoRows {
		return storage.TagRef{}, coreerrors.ErrNotFound
	}
	if err != nil {
		return storage.TagRef{}, fmt.Errorf("failed to load tag %d: %w", id, err)
	}
	return tag, nil
}

// CoOccurrences enumerates tags co-occurring with tagID on articles tagged
// since the given time. Within a tag scope every qualifying article carries
// the root tag, so Shared and Occurrences coincide per row.
func (a *ContentAdapter) CoOccurrences(ctx context.Context, tagID int64, since time.Time, limit int) ([]storage.CoOccurrence, error) {
	rows, err := a.db.QueryContext(ctx, queryCoOccurrences, tagID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query co-occurrences for tag %d: %w", tagID, err)
	}
	defer rows.Close()

	var result []storage.CoOccurrence
	for rows.Next() {
		var co storage.CoOccurrence
		if err := rows.Scan(&co.TagID, &co.Slug, &co.Display, &co.Shared); err != nil {
			return nil, fmt.Errorf("failed to scan co-occurrence row: %w", err)
		}
		co.Occurrences = co.Shared
		result = append(result, co)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating co-occurrences: %w", err)
	}
	return result, nil
}

// CuratedRelations returns alias (synonym) and parent (hierarchy) relations
// for the tag.
func (a *ContentAdapter) CuratedRelations(ctx context.Context, tagID int64) ([]storage.CuratedRelation, error) {
	rows, err := a.db.QueryContext(ctx, queryCuratedRelations, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to query curated relations for tag %d: %w", tagID, err)
	}
	defer rows.Close()

	var relations []storage.CuratedRelation
	for rows.Next() {
		var r storage.CuratedRelation
		if err := rows.Scan(&r.Kind, &r.TagID, &r.Slug, &r.Display); err != nil {
			return nil, fmt.Errorf("failed to scan curated relation row: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating curated relations: %w", err)
	}
	return relations, nil
}

// ActiveTagIDs returns tags with any event activity since the given time.
func (a *ContentAdapter) ActiveTagIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	rows, err := a.db.QueryContext(ctx, queryActiveTagIDs, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tags: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active tag id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active tags: %w", err)
	}
	return ids, nil
}

// UpdateTrendingFlags sets is_trending true for the given set and false for
// every other tag, in one statement. Retained tags keep their current flag.
func (a *ContentAdapter) UpdateTrendingFlags(ctx context.Context, trending, retain []int64) error {
	if trending == nil {
		trending = []int64{}
	}
	if retain == nil {
		retain = []int64{}
	}
	res, err := a.db.ExecContext(ctx, queryUpdateTrendingFlags, pq.Array(trending), pq.Array(retain), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update trending flags: %w", err)
	}
	if changed, err := res.RowsAffected(); err == nil {
		slog.Debug("[Postgres] Updated trending flags",
			"trending", len(trending),
			"retained", len(retain),
			"rows_changed", changed)
	}
	return nil
}

// TrendingTags lists flagged tags ordered by their rollup count for the
// window, descending, ties by id ascending.
func (a *ContentAdapter) TrendingTags(ctx context.Context, window string, limit int) ([]storage.TagRef, error) {
	rows, err := a.db.QueryContext(ctx, queryTrendingTags, window, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending tags: %w", err)
	}
	defer rows.Close()

	var tags []storage.TagRef
	for rows.Next() {
		var tag storage.TagRef
		if err := rows.Scan(&tag.ID, &tag.Slug, &tag.Display); err != nil {
			return nil, fmt.Errorf("failed to scan trending tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trending tags: %w", err)
	}
	return tags, nil
}

// SourceMetricsByDomain returns the 30d metrics row for a domain. A source
// without a metrics row yet reads as zeros.
func (a *ContentAdapter) SourceMetricsByDomain(ctx context.Context, domain string) (storage.SourceMetrics, error) {
	var m storage.SourceMetrics
	err := a.db.QueryRowContext(ctx, querySourceMetricsByDomain, domain).Scan(
		&m.SourceID, &m.Domain, &m.Articles30d, &m.Clicks30d, &m.Rank30d, &m.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return storage.SourceMetrics{}, coreerrors.ErrNotFound
	}
	if err != nil {
		return storage.SourceMetrics{}, fmt.Errorf("failed to query source metrics for %q: %w", domain, err)
	}
	return m, nil
}

// TopSources lists sources ordered by rank_30d descending.
func (a *ContentAdapter) TopSources(ctx context.Context, limit int) ([]storage.SourceMetrics, error) {
	rows, err := a.db.QueryContext(ctx, queryTopSources, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top sources: %w", err)
	}
	defer rows.Close()

	var metrics []storage.SourceMetrics
	for rows.Next() {
		var m storage.SourceMetrics
		if err := rows.Scan(&m.SourceID, &m.Domain, &m.Articles30d, &m.Clicks30d, &m.Rank30d, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan top source row: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top sources: %w", err)
	}
	return metrics, nil
}

// SourceActivity30d counts articles fetched and clicks received per source
// over the trailing 30 days.
func (a *ContentAdapter) SourceActivity30d(ctx context.Context) ([]storage.SourceActivity, error) {
	since := time.Now().UTC().Add(-30 * 24 * time.Hour)
	rows, err := a.db.QueryContext(ctx, querySourceActivity30d, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query source activity: %w", err)
	}
	defer rows.Close()

	var activity []storage.SourceActivity
	for rows.Next() {
		var sa storage.SourceActivity
		if err := rows.Scan(&sa.SourceID, &sa.Domain, &sa.Articles30d, &sa.Clicks30d); err != nil {
			return nil, fmt.Errorf("failed to scan source activity row: %w", err)
		}
		activity = append(activity, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source activity: %w", err)
	}
	return activity, nil
}

// ReplaceSourceMetrics swaps the metrics row for one source.
func (a *ContentAdapter) ReplaceSourceMetrics(ctx context.Context, m storage.SourceMetrics) error {
	_, err := a.db.ExecContext(ctx, queryReplaceSourceMetrics,
		m.SourceID, m.Articles30d, m.Clicks30d, m.Rank30d, m.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace source metrics for %d: %w", m.SourceID, err)
	}
	return nil
}
