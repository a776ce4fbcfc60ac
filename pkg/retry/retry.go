package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted wraps the last failure once a Policy runs out of retries.
var ErrExhausted = errors.New("retries exhausted")

// Policy controls how an operation is retried.
type Policy struct {
	Retries  int           // attempts after the first
	Delay    time.Duration // wait before the first retry
	MaxDelay time.Duration // cap on a single wait; zero means no cap
	Backoff  float64       // growth per retry; values <= 1 keep the delay constant
	Jitter   bool          // spread each wait by up to a quarter either way

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(retry int, err error)
	// After supplies timers; nil means time.After.
	After func(time.Duration) <-chan time.Time
}

func Fixed(retries int, delay time.Duration) Policy {
	return Policy{Retries: retries, Delay: delay}
}

func Exponential(retries int, delay, maxDelay time.Duration) Policy {
	return Policy{Retries: retries, Delay: delay, MaxDelay: maxDelay, Backoff: 2, Jitter: true}
}

func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// DoValue calls fn until it succeeds, returns an error Retryable rejects, the
// retries run out, or ctx is done.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	after := p.After
	if after == nil {
		after = time.After
	}

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case p.Retryable != nil && !p.Retryable(err):
			return zero, err
		case retry >= p.Retries:
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, retry+1, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(retry+1, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-after(p.wait(retry)):
		}
	}
}

func (p Policy) wait(retry int) time.Duration {
	d := p.Delay
	if p.Backoff > 1 {
		for i := 0; i < retry; i++ {
			d = time.Duration(float64(d) * p.Backoff)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		spread := d / 4
		d += time.Duration(rand.Int64N(int64(2*spread)+1)) - spread
	}
	return d
}
