package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

type sourceRunner[M Message] struct {
	src    Source[M]
	ch     *Channel[M]
	policy ReconnectPolicy
	obs    Observer
	log    *slog.Logger
}

// run drives the source until it ends, fails fatally or ctx is canceled.
// The channel is closed on every exit path; a panic in the source closes it
// with an error.
func (r *sourceRunner[M]) run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("source panic: %v", p)
		}
		if err != nil {
			r.ch.CloseWithError(err)
		} else {
			r.ch.Close()
		}
		if cerr := r.src.Close(); cerr != nil {
			r.log.Warn("source close failed", "err", cerr)
		}
	}()

	var (
		attempt   int
		connected bool
	)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !connected {
			if err := r.src.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !IsTransient(err) {
					return fmt.Errorf("connect: %w", err)
				}
				attempt++
				if stop, err := r.wait(ctx, attempt, err); stop {
					return err
				}
				continue
			}
			connected = true
			r.log.Info("source connected", "attempt", attempt)
		}

		msg, err := r.src.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				r.log.Info("source reached end of stream")
				return nil
			case IsTransient(err):
				connected = false
				attempt++
				if stop, err := r.wait(ctx, attempt, err); stop {
					return err
				}
				continue
			default:
				return err
			}
		}
		attempt = 0

		if err := r.ch.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.obs.MessageEnqueued(msg.Kind(), r.ch.Len())
	}
}

// wait sleeps before reconnect attempt n. stop is true when the runner must
// terminate: err is nil for cancellation and non-nil once attempts run out.
func (r *sourceRunner[M]) wait(ctx context.Context, n int, cause error) (stop bool, err error) {
	if n > r.policy.MaxAttempts {
		return true, fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, n-1, cause)
	}
	delay := r.policy.Backoff.Next(n)
	r.log.Warn("source disconnected, reconnecting", "attempt", n, "max_attempts", r.policy.MaxAttempts, "delay", delay, "err", cause)
	r.obs.SourceReconnecting(n, delay, cause)
	if err := sleep(ctx, delay); err != nil {
		return true, nil
	}
	return false, nil
}
