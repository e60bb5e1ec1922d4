// Package bucket implements a continuous token-bucket rate primitive.
package bucket

import (
	"sync"
	"time"
)

// Clock returns the current monotonic instant. Overridable in tests.
type Clock func() time.Time

// Bucket is a token bucket with fractional, continuously-refilled capacity.
// Unlike an integer-minute refill loop, tokens accumulate smoothly between
// calls so a caller polling at any cadence observes the same effective rate.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	now        Clock
}

// New creates a Bucket with the given capacity and refill rate (tokens/sec),
// starting full.
func New(capacity, refillRatePerSec float64) *Bucket {
	return NewWithClock(capacity, refillRatePerSec, time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(capacity, refillRatePerSec float64, now Clock) *Bucket {
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRatePerSec,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryConsume attempts to remove n tokens without blocking. It reports
// whether the tokens were available and, if so, deducts them atomically.
func (b *Bucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// WaitDuration returns how long the caller must wait before n tokens would
// become available, given the current fill level. Zero means n is
// available now. It does not reserve or consume tokens.
func (b *Bucket) WaitDuration(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Duration(1<<63 - 1) // effectively forever
	}
	deficit := n - b.tokens
	seconds := deficit / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Tokens returns the current fill level after applying refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Capacity returns the bucket's maximum token level.
func (b *Bucket) Capacity() float64 {
	return b.capacity
}
