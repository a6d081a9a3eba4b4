package backoff

import (
	"context"
	"time"
)

// Retrier retries a call while its error is transient. There is no attempt
// limit; only ctx bounds the loop.
type Retrier struct {
	Policy    Policy
	Retryable func(error) bool
	// OnRetry, if set, is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	sleep func(context.Context, time.Duration) error
}

func NewRetrier(policy Policy, retryable func(error) bool) *Retrier {
	return &Retrier{Policy: policy, Retryable: retryable, sleep: SleepWithContext}
}

// WithSleep replaces the sleep function, for tests.
func (r *Retrier) WithSleep(sleep func(context.Context, time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

func Do[T any](ctx context.Context, r *Retrier, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if r.Retryable == nil || !r.Retryable(err) {
			return zero, err
		}
		delay := Compute(r.Policy, attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, delay)
		}
		sleep := r.sleep
		if sleep == nil {
			sleep = SleepWithContext
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}
