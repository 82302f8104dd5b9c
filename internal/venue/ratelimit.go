// ratelimit.go implements token-bucket rate limiting for the venue CLOB API.
//
// The venue enforces per-category limits measured in requests per 10-second
// windows. The buckets refill continuously rather than in 10s bursts so a
// busy loop never slams into a hard limit.
//
// Buckets:
//   - Order:  350 burst / 50 per sec (maps to the 3500/10s order limit)
//   - Cancel: 300 burst / 30 per sec (3000/10s)
//   - Read:   150 burst / 15 per sec (1500/10s, shared by book/trade/status reads)
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter with continuous refill. Callers block in
// Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by venue endpoint category. Every HTTP
// call goes through the matching bucket's Wait before hitting the wire.
type RateLimiter struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Read   *TokenBucket
}

// NewRateLimiter creates limiters tuned to the venue's published limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(350, 50),
		Cancel: NewTokenBucket(300, 30),
		Read:   NewTokenBucket(150, 15),
	}
}
