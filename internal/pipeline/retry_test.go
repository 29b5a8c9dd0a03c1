package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_NextGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2}
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(i + 1); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
	if got := b.Next(0); got != 10*time.Millisecond {
		t.Fatalf("attempt 0 should clamp to Min, got %v", got)
	}
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Next(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond}}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("attempt %d on call %d", attempt, calls)
		}
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicy_ReturnsLastError(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond}}
	last := errors.New("second")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return errBoom
		}
		return last
	})
	if !errors.Is(err, last) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicy_CancelDuringBackoff(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: Backoff{Min: time.Hour, Max: time.Hour}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context, int) error { return errBoom })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}
