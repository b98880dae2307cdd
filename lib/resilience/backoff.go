package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponentially growing retry delays with jitter.
type Backoff struct {
	// Initial is the first retry delay.
	Initial time.Duration
	// Max caps the delay (0 = uncapped).
	Max time.Duration
	// Multiplier is the growth factor per attempt (typically 2.0).
	Multiplier float64
	// Jitter is the random jitter fraction (0.0-1.0).
	Jitter float64
	// MaxAttempts is the number of attempts allowed (0 = unlimited).
	MaxAttempts int
}

// DefaultBackoff returns the connect retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	// Exponential backoff: initial * multiplier^attempt
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Add jitter: ±jitter
	if b.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * b.Jitter
	}

	if delay < float64(b.Initial) {
		delay = float64(b.Initial)
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt (1-based count of attempts made) has
// used up the budget.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	log.WithField("attempt", attempt).WithField("delay", d).Debug("backing off")

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
