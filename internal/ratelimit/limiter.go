// Package ratelimit implements a fixed-window request counter in Redis. The
// increment and the limit check happen in one Lua round trip, so two
// concurrent requests can never both observe "under limit" and slip past it.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimiterUnavailable wraps Redis transport failures. Callers treat it as
// transient and fail closed when retries exhaust.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Limit caps requests per window for one endpoint class.
type Limit struct {
	Max    int64
	Window time.Duration
}

// Decision is the outcome of one Allow call. RetryAfter is meaningful only
// when Allowed is false and names the remaining window.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

const allowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  local ttl = redis.call("PTTL", KEYS[1])
  return {0, 0, ttl}
end
return {1, tonumber(ARGV[1]) - count, 0}
`

var allowLua = redis.NewScript(allowScript)

type Limiter struct {
	redis  redis.UniversalClient
	limits map[string]Limit
}

// NewLimiter returns a limiter with per-class limits. Classes without an
// entry fall back to the "default" class, which must be present.
func NewLimiter(redisClient redis.UniversalClient, limits map[string]Limit) *Limiter {
	return &Limiter{redis: redisClient, limits: limits}
}

func (l *Limiter) limitFor(class string) Limit {
	if lim, ok := l.limits[class]; ok {
		return lim
	}
	return l.limits["default"]
}

// Allow counts one request for (clientID, class) and reports whether it fits
// in the current window.
func (l *Limiter) Allow(ctx context.Context, clientID, class string) (Decision, error) {
	lim := l.limitFor(class)
	if lim.Max <= 0 || lim.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	windowID := time.Now().UnixMilli() / lim.Window.Milliseconds()
	key := fmt.Sprintf("ratelimit:%s:%s:%d", clientID, class, windowID)

	res, err := allowLua.Run(ctx, l.redis, []string{key}, lim.Max, lim.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrLimiterUnavailable)
	}
	d := Decision{
		Allowed:   res[0] == 1,
		Remaining: res[1],
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
		if d.RetryAfter <= 0 {
			d.RetryAfter = lim.Window
		}
	}
	return d, nil
}
