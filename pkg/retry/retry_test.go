package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func recordWaits(p *Policy) *[]time.Duration {
	var waits []time.Duration
	p.After = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return &waits
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	p := Fixed(5, time.Second)
	waits := recordWaits(&p)

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *waits)
}

func TestDo_Exhausts(t *testing.T) {
	p := Fixed(5, time.Second)
	recordWaits(&p)

	var retries []int
	p.OnRetry = func(retry int, err error) { retries = append(retries, retry) }

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 6, calls)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, retries)
}

func TestDo_ZeroRetriesCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(0, time.Hour), func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableRejects(t *testing.T) {
	p := Fixed(5, time.Millisecond)
	p.Retryable = func(err error) bool { return errors.Is(err, errTransient) }
	other := errors.New("other")

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return other
	})

	assert.Same(t, other, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeFirstCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Fixed(3, time.Millisecond), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Fixed(3, time.Hour)
	p.OnRetry = func(int, error) { cancel() }

	err := Do(ctx, p, func() error { return errTransient })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValue(t *testing.T) {
	p := Exponential(3, 100*time.Millisecond, time.Second)
	p.Jitter = false
	waits := recordWaits(&p)

	calls := 0
	v, err := DoValue(context.Background(), p, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestPolicy_Wait(t *testing.T) {
	p := Policy{Delay: 100 * time.Millisecond, MaxDelay: time.Second, Backoff: 2}

	assert.Equal(t, 100*time.Millisecond, p.wait(0))
	assert.Equal(t, 400*time.Millisecond, p.wait(2))
	assert.Equal(t, time.Second, p.wait(10))
	assert.Equal(t, time.Second, p.wait(1000))

	p.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.wait(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
