package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
)

const (
	queryGetArtifact = `
		SELECT key_hash, category, identifier, params_hash, payload, generated_at, ttl_seconds
		FROM cache_artifacts
		WHERE key_hash = $1
	`

	// Expired rows are reclaimed lazily: a recompute overwrites its own key.
	queryPutArtifact = `
		INSERT INTO cache_artifacts (
			key_hash, category, identifier, params_hash, payload, generated_at, ttl_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key_hash) DO UPDATE SET
			category     = EXCLUDED.category,
			identifier   = EXCLUDED.identifier,
			params_hash  = EXCLUDED.params_hash,
			payload      = EXCLUDED.payload,
			generated_at = EXCLUDED.generated_at,
			ttl_seconds  = EXCLUDED.ttl_seconds
	`

	queryDeleteArtifactsByOwner = `
		DELETE FROM cache_artifacts
		WHERE category = $1 AND ($2 = '' OR identifier = $2)
	`
)

// CacheAdapter implements cache.ArtifactStore using PostgreSQL.
type CacheAdapter struct {
	db *sql.DB
}

// NewCacheAdapter creates a CacheAdapter sharing the given connection.
func NewCacheAdapter(db *sql.DB) *CacheAdapter {
	return &CacheAdapter{db: db}
}

// Get returns the artifact for keyHash, expired or not. Expiry is judged by
// the caller so the stale-serve path can still read the row.
func (a *CacheAdapter) Get(ctx context.Context, keyHash string) (cache.Artifact, error) {
	var art cache.Artifact
	err := a.db.QueryRowContext(ctx, queryGetArtifact, keyHash).Scan(
		&art.KeyHash,
		&art.Category,
		&art.Identifier,
		&art.ParamsHash,
		&art.Payload,
		&art.GeneratedAt,
		&art.TTLSeconds,
	)
	if err == sql.ErrNoRows {
		return cache.Artifact{}, coreerrors.ErrNotFound
	}
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("failed to load cache artifact %s: %w", keyHash, err)
	}
	return art, nil
}

// Put replaces the artifact stored under its key hash.
func (a *CacheAdapter) Put(ctx context.Context, art cache.Artifact) error {
	_, err := a.db.ExecContext(ctx, queryPutArtifact,
		art.KeyHash,
		art.Category,
		art.Identifier,
		art.ParamsHash,
		[]byte(art.Payload),
		art.GeneratedAt,
		art.TTLSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache artifact %s: %w", art.KeyHash, err)
	}
	return nil
}

// DeleteByOwner purges all artifacts under (category, identifier);
// identifier "" purges the whole category.
func (a *CacheAdapter) DeleteByOwner(ctx context.Context, category, identifier string) error {
	_, err := a.db.ExecContext(ctx, queryDeleteArtifactsByOwner, category, identifier)
	if err != nil {
		return fmt.Errorf("failed to purge cache artifacts %s/%s: %w", category, identifier, err)
	}
	return nil
}
