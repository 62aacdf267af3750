// redis.go -- go-redis client and the shared token-bucket rate limiter.
//
// Redis is optional. When configured it backs the rate limiter for every
// replica and carries the audit queue; when absent the service falls back to
// MemoryRateLimiter and synchronous audit writes.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitKeyPrefix namespaces bucket keys in Redis.
const RateLimitKeyPrefix = "cxo:ratelimit:"

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup from main.go...the client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisRateLimiter is a token bucket per key, shared by all replicas through Redis.
type RedisRateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisRateLimiter wraps rdb. Bucket math uses the application clock passed as
// an argument, so tests can drive time without touching Redis.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, now: time.Now}
}

// bucketScript refills and consumes one token atomically.
// KEYS[1] = bucket key
// ARGV[1] = capacity, ARGV[2] = window in ms, ARGV[3] = now in ms
// Returns {allowed (0/1), ms until reset}.
// When allowed, reset is when the bucket is full again; otherwise when one token is available.
var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
    tokens = capacity
    ts = now
end
if now > ts then
    tokens = math.min(capacity, tokens + (now - ts) * capacity / window)
    ts = now
end

local allowed = 0
local missing
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
    missing = capacity - tokens
else
    missing = 1 - tokens
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], tostring(window))
return {allowed, math.ceil(missing * window / capacity)}
`)

// Consume takes one token from key's bucket.
// A Redis failure is returned as an error; the caller decides whether that fails closed.
func (l *RedisRateLimiter) Consume(ctx context.Context, key string, limit RateLimit) (RateLimitResult, error) {
	if err := limit.validate(); err != nil {
		return RateLimitResult{}, err
	}
	now := l.now()
	res, err := bucketScript.Run(ctx, l.rdb, []string{RateLimitKeyPrefix + key},
		limit.MaxAttempts,
		limit.Window.Milliseconds(),
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int64Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return RateLimitResult{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}
	return RateLimitResult{
		Allowed: res[0] == 1,
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// CheckHealth pings the Redis server backing the limiter.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// validate rejects limits the bucket math cannot represent.
func (rl RateLimit) validate() error {
	if rl.MaxAttempts <= 0 || rl.Window < time.Millisecond {
		return fmt.Errorf("%w: max=%d window=%s", ErrInvalidRateLimit, rl.MaxAttempts, rl.Window)
	}
	return nil
}
