// Package revocation answers "is this access token jti still usable" and
// tracks which jtis are live per subject, so revoke-all can kill unexpired
// access tokens before their natural expiry.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRegistryUnavailable wraps Redis transport failures. Callers treat it as
// transient and fail closed when retries exhaust.
var ErrRegistryUnavailable = errors.New("revocation registry unavailable")

const (
	blacklistPrefix = "blacklist:"
	activePrefix    = "active_tokens:"
)

type Registry struct {
	redis redis.UniversalClient
}

func New(redisClient redis.UniversalClient) *Registry {
	return &Registry{redis: redisClient}
}

func blacklistKey(jti string) string {
	return blacklistPrefix + jti
}

func activeKey(subjectID string) string {
	return activePrefix + subjectID
}

// RegisterActive adds the jti to the subject's active set. The set's TTL is
// refreshed to the access token lifetime on every registration; members left
// behind after the last token expires disappear with the set.
func (r *Registry) RegisterActive(ctx context.Context, subjectID, jti string, ttl time.Duration) error {
	pipe := r.redis.TxPipeline()
	pipe.SAdd(ctx, activeKey(subjectID), jti)
	pipe.Expire(ctx, activeKey(subjectID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether the jti has been revoked.
func (r *Registry) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return n > 0, nil
}

// Blacklist marks the jti revoked for its remaining lifetime. A ttl of zero
// or less means the token already expired naturally and nothing is recorded.
func (r *Registry) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// RevokeAll blacklists every active jti for the subject, then clears the
// active set. The blacklist writes happen before the set is cleared so that
// a failure mid-sequence leaves the jtis still visible to a retry; the whole
// operation is idempotent.
func (r *Registry) RevokeAll(ctx context.Context, subjectID string, ttl time.Duration) error {
	jtis, err := r.redis.SMembers(ctx, activeKey(subjectID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if len(jtis) > 0 {
		pipe := r.redis.Pipeline()
		for _, jti := range jtis {
			pipe.Set(ctx, blacklistKey(jti), "1", ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
		}
	}
	if err := r.redis.Del(ctx, activeKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}
