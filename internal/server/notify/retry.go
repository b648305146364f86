package notify

import (
	"context"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/server/models"
)

// Backoff computes the delay before the next retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows delays by powers of two, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay for the given attempt (1-based).
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Retrying retries a failing notifier up to Attempts times.
type Retrying struct {
	Next     Notifier
	Attempts int
	Backoff  Backoff
}

// NewRetrying wraps next with the default policy: 3 attempts, 100ms doubling
// up to 2s.
func NewRetrying(next Notifier) *Retrying {
	return &Retrying{
		Next:     next,
		Attempts: 3,
		Backoff:  ExponentialBackoff{Base: 100 * time.Millisecond, Max: 2 * time.Second},
	}
}

// Notify implements Notifier. It gives up early when ctx is done.
func (r *Retrying) Notify(ctx context.Context, to models.Subject, msg Message) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = r.Next.Notify(ctx, to, msg); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(r.Backoff.Next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
