package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
	"github.com/pulsewire-io/pulsewire/internal/storage"
)

const (
	queryDeleteRollupRows = `
		DELETE FROM rollups
		WHERE scope = $1 AND ref_id = $2 AND "window" = $3
	`

	queryInsertRollupRow = `
		INSERT INTO rollups (
			scope, ref_id, "window", country_code, region_code, count, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	queryRollupTotal = `
		SELECT COALESCE(SUM(count), 0), MAX(computed_at)
		FROM rollups
		WHERE scope = $1 AND ref_id = $2 AND "window" = $3
	`

	queryRollupGeoBreakdown = `
		SELECT country_code, region_code, count
		FROM rollups
		WHERE scope = $1 AND ref_id = $2 AND "window" = $3 AND count > 0
		ORDER BY count DESC, country_code ASC, region_code ASC
	`

	// Refs with event activity whose rollup is missing or older than the
	// cutoff. One variant per scope since tag activity is indirect.
	queryStaleArticleRefs = `
		SELECT DISTINCT e.subject_id
		FROM events e
		LEFT JOIN (
			SELECT ref_id, MAX(computed_at) AS computed_at
			FROM rollups
			WHERE scope = 'article' AND "window" = $1
			GROUP BY ref_id
		) r ON r.ref_id = e.subject_id
		WHERE e.subject_type = 'article'
		  AND e.occurred_at >= $2
		  AND (r.computed_at IS NULL OR r.computed_at < $3)
		ORDER BY e.subject_id ASC
		LIMIT $4
	`

	queryStaleTagRefs = `
		SELECT DISTINCT active.tag_id
		FROM (
			SELECT subject_id AS tag_id
			FROM events
			WHERE subject_type = 'tag' AND occurred_at >= $2
			UNION
			SELECT at.tag_id
			FROM events e
			JOIN article_tags at ON at.article_id = e.subject_id
			WHERE e.subject_type = 'article' AND e.occurred_at >= $2
		) active
		LEFT JOIN (
			SELECT ref_id, MAX(computed_at) AS computed_at
			FROM rollups
			WHERE scope = 'tag' AND "window" = $1
			GROUP BY ref_id
		) r ON r.ref_id = active.tag_id
		WHERE r.computed_at IS NULL OR r.computed_at < $3
		ORDER BY active.tag_id ASC
		LIMIT $4
	`
)

// RollupAdapter implements storage.RollupStore using PostgreSQL. Replace
// runs delete-and-insert in a single transaction, the atomicity contract
// that keeps readers from observing a half-swapped window.
type RollupAdapter struct {
	db *sql.DB
}

// NewRollupAdapter creates a RollupAdapter sharing the given connection.
func NewRollupAdapter(db *sql.DB) *RollupAdapter {
	return &RollupAdapter{db: db}
}

// Replace atomically swaps all rows for one (scope, ref, window) key.
// An empty counts slice still writes a single zero-count placeholder row so
// computed_at survives for staleness checks.
func (a *RollupAdapter) Replace(
	ctx context.Context,
	scope storage.RollupScope,
	refID int64,
	window string,
	counts []storage.GeoCount,
	computedAt time.Time,
) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeleteRollupRows, scope, refID, window); err != nil {
		return fmt.Errorf("failed to clear rollup rows for %s/%d/%s: %w", scope, refID, window, err)
	}

	stmt, err := tx.PrepareContext(ctx, queryInsertRollupRow)
	if err != nil {
		return fmt.Errorf("failed to prepare rollup insert: %w", err)
	}
	defer stmt.Close()

	if len(counts) == 0 {
		counts = []storage.GeoCount{{CountryCode: "", RegionCode: "", Views: 0}}
	}
	for _, c := range counts {
		if _, err := stmt.ExecContext(ctx, scope, refID, window, c.CountryCode, c.RegionCode, c.Views, computedAt); err != nil {
			return fmt.Errorf("failed to insert rollup row for %s/%d/%s: %w", scope, refID, window, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollup swap: %w", err)
	}

	slog.Debug("[Postgres] Replaced rollup",
		"scope", scope,
		"ref_id", refID,
		"window", window,
		"rows", len(counts))
	return nil
}

// Total sums the rows for one key. ErrNotFound when never computed.
func (a *RollupAdapter) Total(ctx context.Context, scope storage.RollupScope, refID int64, window string) (storage.RollupTotal, error) {
	var (
		count      int64
		computedAt sql.NullTime
	)
	err := a.db.QueryRowContext(ctx, queryRollupTotal, scope, refID, window).Scan(&count, &computedAt)
	if err != nil {
		return storage.RollupTotal{}, fmt.Errorf("failed to query rollup total for %s/%d/%s: %w", scope, refID, window, err)
	}
	if !computedAt.Valid {
		// MAX over zero rows is NULL: this key was never computed.
		return storage.RollupTotal{}, coreerrors.ErrNotFound
	}
	return storage.RollupTotal{Count: count, ComputedAt: computedAt.Time}, nil
}

// GeoBreakdown returns the per-(country, region) rows for one key, ordered
// by views descending then country/region ascending. Zero-count placeholder
// rows are filtered out.
func (a *RollupAdapter) GeoBreakdown(ctx context.Context, scope storage.RollupScope, refID int64, window string) ([]storage.GeoCount, error) {
	rows, err := a.db.QueryContext(ctx, queryRollupGeoBreakdown, scope, refID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query geo breakdown for %s/%d/%s: %w", scope, refID, window, err)
	}
	defer rows.Close()

	var counts []storage.GeoCount
	for rows.Next() {
		var c storage.GeoCount
		if err := rows.Scan(&c.CountryCode, &c.RegionCode, &c.Views); err != nil {
			return nil, fmt.Errorf("failed to scan geo breakdown row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating geo breakdown: %w", err)
	}
	return counts, nil
}

// StaleRefs returns refs of the given scope with event activity since
// activitySince whose rollup for window is missing or computed before cutoff.
func (a *RollupAdapter) StaleRefs(
	ctx context.Context,
	scope storage.RollupScope,
	window string,
	cutoff, activitySince time.Time,
	limit int,
) ([]int64, error) {
	var query string
	switch scope {
	case storage.ScopeArticle:
		query = queryStaleArticleRefs
	case storage.ScopeTag:
		query = queryStaleTagRefs
	default:
		return nil, fmt.Errorf("stale ref scan not supported for scope %q", scope)
	}

	rows, err := a.db.QueryContext(ctx, query, window, activitySince, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale %s refs: %w", scope, err)
	}
	defer rows.Close()

	var refs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale ref: %w", err)
		}
		refs = append(refs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale refs: %w", err)
	}
	return refs, nil
}
