// Package permcache caches resolved role/permission snapshots per subject in
// Redis. The relational store is the source of truth; entries here are
// advisory and may be dropped at any time. A Set racing a concurrent
// Invalidate can leave a stale entry behind; the TTL bounds how long it lives.
package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps Redis transport failures so callers can treat the
// cache as a transient dependency and fall through to the relational store.
var ErrCacheUnavailable = errors.New("permission cache unavailable")

const keyPrefix = "permissions:"

// Snapshot is the resolved authorization state for one subject at one point
// in time.
type Snapshot struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type Cache struct {
	redis redis.UniversalClient
}

func New(redisClient redis.UniversalClient) *Cache {
	return &Cache{redis: redisClient}
}

func key(subjectID string) string {
	return keyPrefix + subjectID
}

// Get returns the cached snapshot for the subject, or nil on a miss.
func (c *Cache) Get(ctx context.Context, subjectID string) (*Snapshot, error) {
	raw, err := c.redis.Get(ctx, key(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// Corrupt entry counts as a miss; the read path repopulates it.
		return nil, nil
	}
	return &snap, nil
}

// Set stores the snapshot with the given TTL.
func (c *Cache) Set(ctx context.Context, subjectID string, snap *Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key(subjectID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate drops the subject's cached snapshot. Missing keys are not an error.
func (c *Cache) Invalidate(ctx context.Context, subjectID string) error {
	if err := c.redis.Del(ctx, key(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateAll drops every cached snapshot. Implemented as an incremental
// SCAN with batched DELs so it never blocks the store the way FLUSH-style
// operations do.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
