package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig      = errors.New("pipeline: invalid config")
	ErrNilSource          = errors.New("pipeline: source is nil")
	ErrNilSink            = errors.New("pipeline: sink is nil")
	ErrChannelClosed      = errors.New("pipeline: send on closed channel")
	ErrEndOfStream        = errors.New("pipeline: end of stream")
	ErrReconnectExhausted = errors.New("pipeline: reconnect attempts exhausted")
	ErrSinkRetryExhausted = errors.New("pipeline: sink retry attempts exhausted")
)

// ConfigError reports an invalid configuration value. It is returned before
// any runner is started and is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline: invalid config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// UpstreamError is what the processor sees once the channel is drained after
// the source runner terminated abnormally.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "pipeline: upstream failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RunnerError is the failure a Handle resolves to.
type RunnerError struct {
	Runner string
	Err    error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("pipeline: %s runner: %v", e.Runner, e.Err)
}

func (e *RunnerError) Unwrap() error { return e.Err }

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as reconnect-eligible. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in err's chain was marked Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
