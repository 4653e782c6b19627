package providers

import (
	"context"
	"time"

	"github.com/marketgps/core/internal/domain"
)

// RetryPolicy is exponential backoff over retryable provider failures.
// Auth and quota errors surface immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry matches the adapter contract: up to 4 attempts, 500ms base,
// doubling per attempt.
var DefaultRetry = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
}

// Do runs fn until it succeeds, exhausts attempts, or hits a non-retryable
// error. Context cancellation interrupts the backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !domain.RetryableProviderError(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
