// Package retry paces the unbounded retry loops of both bridges.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a capped exponential backoff.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// DefaultPolicy starts at 100ms and caps at 30s.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

// Backoff tracks consecutive failures of one loop. It never gives up.
// Not safe for concurrent use; each loop owns its own.
type Backoff struct {
	b     *backoff.ExponentialBackOff
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Backoff for p.
func New(p Policy) *Backoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return &Backoff{b: b, sleep: sleepContext}
}

// Next returns the delay before the next attempt.
func (r *Backoff) Next() time.Duration {
	d := r.b.NextBackOff()
	if d == backoff.Stop {
		return r.b.MaxInterval
	}
	return d
}

// Wait sleeps for the next delay. It returns ctx.Err() if ctx ends first.
func (r *Backoff) Wait(ctx context.Context) error {
	return r.sleep(ctx, r.Next())
}

// WaitAtLeast is Wait with a lower bound, used when the server asked the
// caller to slow down.
func (r *Backoff) WaitAtLeast(ctx context.Context, floor time.Duration) error {
	d := r.Next()
	if d < floor {
		d = floor
	}
	return r.sleep(ctx, d)
}

// Reset starts the sequence over after a success.
func (r *Backoff) Reset() {
	r.b.Reset()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
