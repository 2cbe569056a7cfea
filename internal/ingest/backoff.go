package ingest

import "time"

// Backoff yields reconnect delays that double up to a cap.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay = max(maxDelay, initial)
	return &Backoff{initial: initial, max: maxDelay, next: initial}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.max)
	return d
}

// Reset starts over from the initial delay after a successful connection.
func (b *Backoff) Reset() {
	b.next = b.initial
}
