package subscriber

import (
	"sync"
	"time"
)

// reconnectBackoff tracks the delay before the next stream reconnect
// attempt: initialized to initialReconnectBackoff, doubled on each
// consecutive failure, and reset on any clean stream close (spec.md §3,
// §8 "Backoff monotonicity").
//
// This is the one piece of the domain stack deliberately left off the
// teacher's own backoff dependency (github.com/grafana/dskit/backoff);
// see DESIGN.md for why that package's Ongoing()/Wait() loop adds nothing
// to the Subscriber's own reconnect loop, which only needs this
// doubling-and-reset delay.
type reconnectBackoff struct {
	mu      sync.Mutex
	current time.Duration
}

func newReconnectBackoff() *reconnectBackoff {
	return &reconnectBackoff{current: initialReconnectBackoff}
}

// next returns the delay to wait before the next reconnect attempt and
// doubles it for the following failure.
func (b *reconnectBackoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current *= 2
	return d
}

// reset restores the backoff to its initial value, called after any
// clean stream close.
func (b *reconnectBackoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = initialReconnectBackoff
}
