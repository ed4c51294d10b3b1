// Package backoff computes capped exponential reconnect delays.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Backoff returns min(base * 2^attempt, max) on each Next call, optionally
// scaled by a random factor in [1-jitter, 1+jitter].
// Not safe for concurrent use.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New creates a Backoff. jitter of 0 makes delays deterministic.
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// Next returns the delay for the current attempt and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// Past 2^62 the shift overflows; the cap has long been reached anyway.
	if b.attempt < 62 {
		if d := b.base * time.Duration(int64(1)<<b.attempt); d > 0 && d < b.max {
			delay = d
		}
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Reset sets the attempt counter back to zero. Call after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
