package channel

import (
	"errors"
	"sync"
	"time"

	"greencycle/internal/metrics"
)

// ErrRateLimited is returned when a client sends faster than its bucket refills.
var ErrRateLimited = errors.New("too many messages, slow down")

// RateLimiter is a per-client token bucket for user sends. A nil *RateLimiter
// allows everything.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	max       float64
	rate      float64 // tokens per second
	now       func() time.Time
	lastPrune time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter returns nil when ratePerMinute <= 0, which disables limiting.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 10
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		max:     float64(maxBurst),
		rate:    ratePerMinute / 60.0,
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket. When the bucket is empty it
// returns false and how long until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl == nil {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.max, last: now}
		rl.buckets[key] = b
	}
	b.tokens += now.Sub(b.last).Seconds() * rl.rate
	if b.tokens > rl.max {
		b.tokens = rl.max
	}
	b.last = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}
	metrics.RateLimited.Inc()
	wait := (1.0 - b.tokens) / rl.rate
	return false, time.Duration(wait * float64(time.Second))
}

// pruneLocked drops buckets that have refilled completely; they behave
// the same as a fresh bucket.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < time.Minute {
		return
	}
	rl.lastPrune = now
	full := time.Duration(rl.max / rl.rate * float64(time.Second))
	for k, b := range rl.buckets {
		if now.Sub(b.last) >= full {
			delete(rl.buckets, k)
		}
	}
}

// Len reports how many clients are being tracked.
func (rl *RateLimiter) Len() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
