package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is a bounded exponential backoff schedule: Attempts tries, the
// first immediately, then waiting Initial, Initial*Factor, ... between them.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Factor   int

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration)
}

// DefaultPolicy is 5 attempts waiting 200ms, 1s, 5s and 25s between them.
func DefaultPolicy() Policy {
	return Policy{Attempts: 5, Initial: 200 * time.Millisecond, Factor: 5}
}

// Delays returns the waits between attempts.
func (p Policy) Delays() []time.Duration {
	if p.Attempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.Attempts-1)
	d := p.Initial
	for i := 1; i < p.Attempts; i++ {
		out = append(out, d)
		d *= time.Duration(max(p.Factor, 1))
	}
	return out
}

// ErrExhausted is returned by Retry when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped
// without waiting.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, the schedule is exhausted, or ctx is
// done. The returned error wraps ErrExhausted and fn's last error. An error
// marked with Permanent ends the loop at once.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	attempts := max(p.Attempts, 1)
	delays := p.Delays()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := delays[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
