package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// fixedWindowLua counts a request in the current window and sets the
// window's expiry on its first request. It returns the count.
const fixedWindowLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

// RateLimiter implements domain.RateLimiter with fixed windows keyed by the
// window's start time.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(fixedWindowLua),
		now:    time.Now,
	}
}

// windowKey names the counter of the window containing now.
func windowKey(key string, now time.Time, window time.Duration) string {
	start := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("nativeorders:ratelimit:%s:%d", key, start)
}

// Allow counts a request for key and reports whether it is within limit for
// the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window < time.Millisecond {
		return false, fmt.Errorf("redis: rate limit %s: window must be at least 1ms", key)
	}
	n, err := rl.script.Run(ctx, rl.rdb,
		[]string{windowKey(key, rl.now(), window)},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return n <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
