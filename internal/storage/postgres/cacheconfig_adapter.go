package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	queryCacheConfigTTL = `
		SELECT ttl_seconds FROM cache_config WHERE module = $1
	`

	queryUpsertCacheConfig = `
		INSERT INTO cache_config (module, ttl_seconds, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (module) DO UPDATE SET
			ttl_seconds = EXCLUDED.ttl_seconds,
			updated_at  = EXCLUDED.updated_at
	`

	queryListCacheConfig = `
		SELECT module, ttl_seconds FROM cache_config ORDER BY module ASC
	`
)

// CacheConfigAdapter implements storage.CacheConfigStore using PostgreSQL.
type CacheConfigAdapter struct {
	db *sql.DB
}

// NewCacheConfigAdapter creates a CacheConfigAdapter sharing the given connection.
func NewCacheConfigAdapter(db *sql.DB) *CacheConfigAdapter {
	return &CacheConfigAdapter{db: db}
}

// TTLFor returns the configured TTL for a module; ok=false when no override
// row exists.
func (a *CacheConfigAdapter) TTLFor(ctx context.Context, module string) (int64, bool, error) {
	var seconds int64
	err := a.db.QueryRowContext(ctx, queryCacheConfigTTL, module).Scan(&seconds)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cache config for %q: %w", module, err)
	}
	return seconds, true, nil
}

// SetTTL upserts a module's TTL override.
func (a *CacheConfigAdapter) SetTTL(ctx context.Context, module string, seconds int64) error {
	_, err := a.db.ExecContext(ctx, queryUpsertCacheConfig, module, seconds, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set cache config for %q: %w", module, err)
	}
	return nil
}

// List returns all overrides keyed by module.
func (a *CacheConfigAdapter) List(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryContext(ctx, queryListCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache config: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]int64)
	for rows.Next() {
		var (
			module  string
			seconds int64
		)
		if err := rows.Scan(&module, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan cache config row: %w", err)
		}
		overrides[module] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache config: %w", err)
	}
	return overrides, nil
}
