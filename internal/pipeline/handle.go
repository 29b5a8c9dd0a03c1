package pipeline

import (
	"context"
	"errors"
	"fmt"
)

const (
	RunnerSource    = "source"
	RunnerProcessor = "processor"
)

// Handle tracks one running runner.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

func newHandle(name string) *Handle {
	return &Handle{name: name, done: make(chan struct{})}
}

// Name returns RunnerSource or RunnerProcessor.
func (h *Handle) Name() string { return h.name }

// Done is closed when the runner has terminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the runner's failure once Done is closed, nil before that or on
// success. Failures are *RunnerError.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the runner terminates or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) run(fn func() error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			h.err = &RunnerError{Runner: h.name, Err: err}
		}
		close(h.done)
	}()
	err = fn()
}

// Handles is what Start returns: one Handle per runner plus the shared
// shutdown signal.
type Handles struct {
	Source    *Handle
	Processor *Handle

	stop context.CancelFunc
}

// Stop raises the shutdown signal. The source stops pulling, closes the
// channel, and the processor flushes everything already buffered. Safe to
// call more than once.
func (h *Handles) Stop() { h.stop() }

// Wait joins both runners. The result carries every runner failure.
func (h *Handles) Wait(ctx context.Context) error {
	srcErr := h.Source.Wait(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	procErr := h.Processor.Wait(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(srcErr, procErr)
}
