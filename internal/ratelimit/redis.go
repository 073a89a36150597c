package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding-window limiter shared across processes,
// backed by a Redis sorted set. A nil client or a Redis error fails
// open: dispatch continues unthrottled rather than stalling.
type RedisLimiter struct {
	rdb    *redis.Client
	key    string
	limit  int64
	window time.Duration
}

// slidingWindowScript atomically prunes expired entries, admits if under
// the limit, and otherwise reports how long until the oldest entry
// leaves the window.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro) — score and member uniqueness
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=admitted/0=denied, retry_after_micros]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
redis.call('EXPIRE', key, ttl)
return {count, 0, tonumber(oldest[2]) - window_start}
`)

// NewRedisLimiter creates a distributed limiter over the given bucket
// key. A non-positive limit is a configuration error.
func NewRedisLimiter(rdb *redis.Client, key string, limit int, window time.Duration) (*RedisLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	if window <= 0 {
		window = time.Minute
	}
	if key == "" {
		key = "dispatch"
	}
	return &RedisLimiter{
		rdb:    rdb,
		key:    fmt.Sprintf("llmpool:rl:%s", key),
		limit:  int64(limit),
		window: window,
	}, nil
}

// Admit blocks until the shared window has capacity or ctx is done.
func (l *RedisLimiter) Admit(ctx context.Context) error {
	if l.rdb == nil {
		return nil
	}

	for {
		now := time.Now()
		windowStart := now.Add(-l.window).UnixMicro()
		ttlSecs := int64(l.window.Seconds()) + 1

		result, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.key},
			windowStart, now.UnixMicro(), l.limit, ttlSecs,
		).Int64Slice()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Fail open on Redis errors
			return nil
		}
		if len(result) >= 2 && result[1] == 1 {
			return nil
		}

		wait := 10 * time.Millisecond
		if len(result) >= 3 && result[2] > 0 {
			wait = time.Duration(result[2]) * time.Microsecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
