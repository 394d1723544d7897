package sync

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes retry delays for consecutive failures of the queue
// head: the base delay doubles per failure up to the ceiling, with a
// jitter fraction applied on top. A success resets the counter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, e.g. 0.2 for +/-20%

	mu       sync.Mutex
	failures int
	last     time.Duration
}

// NewBackoff returns a strategy with the given base and ceiling and 20%
// jitter.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, Jitter: 0.2}
}

// Next returns the delay to wait before the next attempt and records one
// more consecutive failure. Between resets the returned delays never
// decrease and never exceed Max, jitter included.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.Base
	for i := 0; i < b.failures && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	b.failures++

	if b.Jitter > 0 {
		// Spread is +/-Jitter around the nominal delay.
		span := float64(delay) * b.Jitter
		delay += time.Duration(span * (2*rand.Float64() - 1))
	}
	if delay > b.Max {
		delay = b.Max
	}
	if delay < b.last {
		delay = b.last
	}
	b.last = delay
	return delay
}

// Reset clears the failure counter after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.last = 0
	b.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
