// ratelimit.go implements token-bucket rate limiting for exchange REST calls.
//
// All three venues throttle by API key with limits measured in requests per
// second-scale windows. The buckets refill continuously rather than in window
// bursts so a fan-out over many clients spreads instead of slamming the limit.
//
// Two buckets are maintained per exchange:
//   - Order:  60 burst / 10 per sec (order placement)
//   - Market: 40 burst / 20 per sec (tickers, balances, order books)
package gateway

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
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

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by call category. Every trading operation
// calls the appropriate bucket's Wait() before making the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket // order placement
	Market *TokenBucket // tickers, balances, order books
}

// NewRateLimiter creates buckets conservative enough to hold under the
// strictest of the three venues' per-key limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(60, 10),
		Market: NewTokenBucket(40, 20),
	}
}
