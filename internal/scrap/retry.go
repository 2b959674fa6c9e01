package scrap

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is a bounded exponential-backoff budget for batch writes.
// Only errors for which IsTransient reports true are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the attempt budget used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do calls fn until it succeeds, fails permanently, or the attempt budget is
// spent. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	return attempts, err
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Backoff
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
