package pipeline

import (
	"context"
	"sync/atomic"
)

// Channel is the bounded FIFO between exactly one producer (the source
// runner) and one consumer (the processor runner).
//
// Send blocks while the channel holds Cap() messages. Recv blocks while it is
// empty. After Close the consumer keeps draining buffered messages and then
// gets ErrEndOfStream; after CloseWithError it gets an *UpstreamError.
//
// Send, Close and CloseWithError belong to the producer and must not be called
// concurrently with each other.
type Channel[M any] struct {
	ch     chan M
	closed atomic.Bool
	cause  error
}

// NewChannel allocates a channel holding at most capacity messages.
func NewChannel[M any](capacity int) (*Channel[M], error) {
	if capacity <= 0 {
		return nil, &ConfigError{Field: "capacity", Reason: "must be > 0"}
	}
	return &Channel[M]{ch: make(chan M, capacity)}, nil
}

// Send enqueues m, waiting for space when the channel is full.
func (c *Channel[M]) Send(ctx context.Context, m M) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case c.ch <- m:
		return nil
	default:
	}
	select {
	case c.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the oldest message, waiting while the channel is empty.
func (c *Channel[M]) Recv(ctx context.Context) (M, error) {
	select {
	case m, ok := <-c.ch:
		return c.received(m, ok)
	default:
	}
	select {
	case m, ok := <-c.ch:
		return c.received(m, ok)
	case <-ctx.Done():
		var zero M
		return zero, ctx.Err()
	}
}

func (c *Channel[M]) received(m M, ok bool) (M, error) {
	if ok {
		return m, nil
	}
	// cause is written before close(c.ch), which happens before this read.
	if c.cause != nil {
		return m, &UpstreamError{Err: c.cause}
	}
	return m, ErrEndOfStream
}

// Close signals a clean end of stream. Further calls are no-ops.
func (c *Channel[M]) Close() {
	c.CloseWithError(nil)
}

// CloseWithError closes the channel. A non-nil cause marks the producer as
// terminated abnormally; the consumer sees it once the buffer is drained.
func (c *Channel[M]) CloseWithError(cause error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cause = cause
	close(c.ch)
}

// Len returns the number of buffered messages.
func (c *Channel[M]) Len() int { return len(c.ch) }

// Cap returns the fixed capacity.
func (c *Channel[M]) Cap() int { return cap(c.ch) }
