package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket consulted before every job execution.
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter with ratePerSec tokens per second.
// A non-positive rate disables limiting and returns nil.
func New(ratePerSec int) *Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)}
}

// Wait blocks until the limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}
