package httpkit

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes retry delays using exponential growth with uniform
// jitter. The first retry (attempt 1) waits Base, the second 2×Base, and
// so on, capped at Max. A Jitter fraction j adds up to j×delay of random
// extra wait to avoid synchronized retry storms.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before the given retry attempt (1-based).
// Attempt values below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the exponent so the shift below cannot overflow.
	if attempt > 31 {
		attempt = 31
	}

	delay := b.Base * time.Duration(1<<(attempt-1))
	if delay < 0 || (b.Max > 0 && delay > b.Max) {
		delay = b.Max
	}

	j := b.Jitter
	if j < 0 {
		j = 0
	}
	if j > 1 {
		j = 1
	}
	if j > 0 {
		extra := time.Duration(float64(delay) * j * rand.Float64())
		if b.Max > 0 && delay+extra > b.Max {
			delay = b.Max
		} else {
			delay += extra
		}
	}
	return delay
}

// Sleep waits for the attempt's delay or until ctx is done, whichever
// comes first. Returns ctx.Err() when cancelled.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
