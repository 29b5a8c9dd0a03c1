package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential delays between attempts.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	// Jitter spreads each delay by +/- Jitter*delay. Zero keeps delays
	// strictly increasing until Max is reached.
	Jitter float64
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// ReconnectPolicy bounds how often the source runner reconnects after
// consecutive transient failures. MaxAttempts == 0 makes the first transient
// failure fatal.
type ReconnectPolicy struct {
	MaxAttempts int
	Backoff     Backoff
}

// RetryPolicy retries an operation with exponential backoff.
//
// Attempts counts the first call too, so Attempts == 1 never retries.
type RetryPolicy struct {
	Attempts int
	Backoff  Backoff
}

// Do calls fn until it succeeds, Attempts is exhausted or ctx is done. fn
// receives the 1-based attempt number. The last error from fn is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(ctx, i); last == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, r.Backoff.Next(i)); err != nil {
			return err
		}
	}
	return last
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
