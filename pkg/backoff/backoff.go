// Package backoff implements capped exponential backoff with jitter.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a backoff curve. The zero value is unusable; use
// Default or fill every field.
type Policy struct {
	// Min is the delay after the first failure.
	Min time.Duration

	// Max caps the delay.
	Max time.Duration

	// Factor multiplies the delay after each failure.
	Factor float64

	// Jitter is the fraction of the delay randomized away (0..1).
	Jitter float64
}

// Default returns the policy used across the client: 100ms doubling up
// to cap with 20% jitter.
func Default(cap time.Duration) Policy {
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return Policy{
		Min:    100 * time.Millisecond,
		Max:    cap,
		Factor: 2,
		Jitter: 0.2,
	}
}

// Backoff tracks consecutive failures against a Policy.
// Not safe for concurrent use.
type Backoff struct {
	policy  Policy
	attempt int
}

// New creates a Backoff at attempt zero.
func New(p Policy) *Backoff {
	return &Backoff{policy: p}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := float64(b.policy.Min)
	for i := 0; i < b.attempt; i++ {
		d *= b.policy.Factor
		if d >= float64(b.policy.Max) {
			d = float64(b.policy.Max)
			break
		}
	}
	b.attempt++

	if b.policy.Jitter > 0 {
		d -= d * b.policy.Jitter * rand.Float64()
	}
	if d < float64(b.policy.Min) {
		d = float64(b.policy.Min)
	}
	return time.Duration(d)
}

// Reset returns the Backoff to attempt zero. Called on any successful
// transition so the next failure starts from Min again.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of consecutive failures recorded.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Sleep waits the next delay or until ctx is done.
func (b *Backoff) Sleep(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
