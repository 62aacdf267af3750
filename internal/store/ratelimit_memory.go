package store

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryRateLimiter keeps token buckets in process memory.
// Buckets are not shared between replicas, so it is only correct for a
// single-instance deployment. Use RedisRateLimiter otherwise.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	lim      *rate.Limiter
	refill   time.Duration // time for an empty bucket to fill
	lastSeen time.Time
}

// NewMemoryRateLimiter returns an empty limiter. Call StartJanitor to evict idle buckets.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

// Consume takes one token from key's bucket, creating it full on first use.
func (m *MemoryRateLimiter) Consume(_ context.Context, key string, limit RateLimit) (RateLimitResult, error) {
	if err := limit.validate(); err != nil {
		return RateLimitResult{}, err
	}
	every := rate.Every(limit.Window / time.Duration(limit.MaxAttempts))
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &memoryBucket{lim: rate.NewLimiter(every, limit.MaxAttempts)}
		m.buckets[key] = b
	} else if b.lim.Limit() != every || b.lim.Burst() != limit.MaxAttempts {
		b.lim.SetLimitAt(now, every)
		b.lim.SetBurstAt(now, limit.MaxAttempts)
	}
	b.refill = limit.Window
	b.lastSeen = now

	perToken := limit.Window / time.Duration(limit.MaxAttempts)
	if b.lim.AllowN(now, 1) {
		missing := float64(limit.MaxAttempts) - b.lim.TokensAt(now)
		return RateLimitResult{Allowed: true, ResetAt: now.Add(tokensDuration(missing, perToken))}, nil
	}
	missing := 1 - b.lim.TokensAt(now)
	return RateLimitResult{Allowed: false, ResetAt: now.Add(tokensDuration(missing, perToken))}, nil
}

// StartJanitor evicts buckets that have been idle long enough to be full again,
// which is indistinguishable from having no bucket. Blocks until ctx is cancelled.
func (m *MemoryRateLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryRateLimiter) sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) >= b.refill {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// tokensDuration is how long the bucket takes to accrue n tokens, rounded up to the millisecond.
func tokensDuration(n float64, perToken time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	ms := math.Ceil(n * float64(perToken) / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
