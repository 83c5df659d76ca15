package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutPrefix = "lockout:"

// Lockout counts consecutive failed credential checks per subject. Once the
// count reaches the threshold, the account stays locked until the counter's
// TTL lapses. The counter key carries the lockout duration from the first
// failure, so the window is fixed, not sliding.
type Lockout struct {
	redis     redis.UniversalClient
	threshold int64
	duration  time.Duration
}

func NewLockout(redisClient redis.UniversalClient, threshold int, duration time.Duration) *Lockout {
	return &Lockout{redis: redisClient, threshold: int64(threshold), duration: duration}
}

func lockoutKey(subjectID string) string {
	return lockoutPrefix + subjectID
}

// Locked reports whether the subject has reached the failure threshold.
func (l *Lockout) Locked(ctx context.Context, subjectID string) (bool, error) {
	count, err := l.redis.Get(ctx, lockoutKey(subjectID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return count >= l.threshold, nil
}

// RecordFailure increments the subject's failure counter and reports whether
// the subject is now locked.
func (l *Lockout) RecordFailure(ctx context.Context, subjectID string) (bool, error) {
	count, err := l.redis.Incr(ctx, lockoutKey(subjectID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, lockoutKey(subjectID), l.duration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	return count >= l.threshold, nil
}

// Reset clears the subject's failure counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, subjectID string) error {
	if err := l.redis.Del(ctx, lockoutKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
