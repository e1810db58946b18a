// Package ratelimit provides a deterministic token bucket used to cap the
// rate of inbound signaling messages per connection.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills at an integer rate (tokens/sec) using a provided Clock.
// Refill is computed in nanoseconds to avoid float rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	availableNanos int64 // nano-tokens; one token == 1e9
	last           time.Time
}

const nanosPerToken = int64(time.Second)

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:          clock,
		capacity:       capacity,
		rate:           rate,
		availableNanos: capacity * nanosPerToken,
		last:           clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if b.availableNanos < cost {
		return false
	}
	b.availableNanos -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Time stalled or went backwards; move the reference point only.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	capNanos := b.capacity * nanosPerToken
	// rate tokens/sec equals rate nano-tokens per nanosecond.
	b.availableNanos += elapsed * b.rate
	if b.availableNanos > capNanos {
		b.availableNanos = capNanos
	}
}
