package stream

import "time"

// Backoff grows linearly with consecutive failures and is capped:
// delay = min(Max, Base*failures).
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	failures int
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.failures++
	d := b.Base * time.Duration(b.failures)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return d
}

func (b *Backoff) Reset() { b.failures = 0 }

func (b *Backoff) Failures() int { return b.failures }
