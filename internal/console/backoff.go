package console

import "time"

// Reconnect delays.
const (
	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffMax     = 60 * time.Second
)

// Backoff yields Initial, 2*Initial, 4*Initial, ... capped at Max.
// It is not safe for concurrent use; each host loop owns one.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoffInitial
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoffMax
	}
	if b.next <= 0 {
		b.next = b.Initial
	}
	d := min(b.next, b.Max)
	b.next = min(b.next*2, b.Max)
	return d
}

// Reset restarts the sequence at Initial after a successful connection.
func (b *Backoff) Reset() { b.next = 0 }
