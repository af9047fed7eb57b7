package errors

import (
	"context"
	"time"
)

// Backoff schedules exponential retry delays: Base, 2*Base, 4*Base, ...
// capped at Max, for at most Retries attempts after the first.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	Retries int
}

// DefaultBackoff matches the folder scheduler's retry policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:    1 * time.Second,
		Max:     60 * time.Second,
		Retries: 6,
	}
}

// Delay returns the sleep before retry attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Retry runs fn, retrying retryable failures per the backoff schedule.
// Non-retryable errors and context cancellation return immediately.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= b.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return Wrap(ctx.Err(), KindCancelled, "retry aborted")
		case <-time.After(b.Delay(attempt)):
		}
	}
}
