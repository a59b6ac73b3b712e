package broker

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Min, capped at
// Max, with jitter applied as base * (0.5 + rand * 0.5).
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// NewBackoff returns a Backoff, substituting 1s and 30s for non-positive
// bounds.
func NewBackoff(min, max time.Duration) Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = 30 * time.Second
		if max < min {
			max = min
		}
	}
	return Backoff{Min: min, Max: max}
}

// Base returns the un-jittered delay for the given attempt (0-based).
func (b Backoff) Base(attempt int) time.Duration {
	d := b.Min
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Next returns the jittered delay for the given attempt.
func (b Backoff) Next(attempt int) time.Duration {
	base := b.Base(attempt)
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}
