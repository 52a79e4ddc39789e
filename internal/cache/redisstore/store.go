// Package redisstore is the Redis-backed cache.ArtifactStore, for
// deployments that keep cache artifacts out of Postgres. Artifacts are
// stored as JSON values; an owner set per (category, identifier) backs the
// logical purge.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsewire-io/pulsewire/internal/cache"
	coreerrors "github.com/pulsewire-io/pulsewire/internal/core/errors"
)

// retainGrace keeps expired artifacts readable past their TTL so the
// stale-serve path has something to serve. Redis evicts them afterwards.
const retainGrace = 24 * time.Hour

// Store implements cache.ArtifactStore on Redis.
type Store struct {
	client *redis.Client
}

// New creates a Store and verifies connectivity.
func New(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func artifactKey(keyHash string) string {
	return "pulsewire:cache:" + keyHash
}

func ownerKey(category, identifier string) string {
	return "pulsewire:cacheowner:" + category + ":" + identifier
}

// Get returns the artifact for keyHash, expired or not (Redis only evicts
// after the retention grace).
func (s *Store) Get(ctx context.Context, keyHash string) (cache.Artifact, error) {
	data, err := s.client.Get(ctx, artifactKey(keyHash)).Bytes()
	if err == redis.Nil {
		return cache.Artifact{}, coreerrors.ErrNotFound
	}
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("redis get %s: %w", keyHash, err)
	}

	var art cache.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return cache.Artifact{}, fmt.Errorf("redis artifact %s: decode: %w", keyHash, err)
	}
	return art, nil
}

// Put replaces the artifact for its key and registers it in the owner set.
func (s *Store) Put(ctx context.Context, a cache.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis artifact %s: encode: %w", a.KeyHash, err)
	}

	retain := time.Duration(a.TTLSeconds)*time.Second + retainGrace
	if err := s.client.Set(ctx, artifactKey(a.KeyHash), data, retain).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", a.KeyHash, err)
	}
	if err := s.client.SAdd(ctx, ownerKey(a.Category, a.Identifier), a.KeyHash).Err(); err != nil {
		return fmt.Errorf("redis owner index %s/%s: %w", a.Category, a.Identifier, err)
	}
	return nil
}

// DeleteByOwner purges all artifacts registered under (category, identifier).
// identifier "" scans the category's owner sets.
func (s *Store) DeleteByOwner(ctx context.Context, category, identifier string) error {
	ownerKeys := []string{ownerKey(category, identifier)}
	if identifier == "" {
		var err error
		ownerKeys, err = s.client.Keys(ctx, "pulsewire:cacheowner:"+category+":*").Result()
		if err != nil {
			return fmt.Errorf("redis owner scan %s: %w", category, err)
		}
	}

	for _, ok := range ownerKeys {
		hashes, err := s.client.SMembers(ctx, ok).Result()
		if err != nil {
			return fmt.Errorf("redis owner members %s: %w", ok, err)
		}
		for _, h := range hashes {
			if err := s.client.Del(ctx, artifactKey(h)).Err(); err != nil {
				return fmt.Errorf("redis del %s: %w", h, err)
			}
		}
		if err := s.client.Del(ctx, ok).Err(); err != nil {
			return fmt.Errorf("redis del owner set %s: %w", ok, err)
		}
	}
	return nil
}
