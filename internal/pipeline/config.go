package pipeline

import "time"

// DefaultCapacity is the channel capacity used when the surrounding
// application does not specify one.
const DefaultCapacity = 1000

// Config tunes one pipeline instance.
type Config struct {
	// Capacity bounds the number of in-flight messages between the runners.
	Capacity int
	// BatchSize flushes a batch as soon as it holds this many messages.
	BatchSize int
	// BatchTimeout flushes a non-empty batch this long after its first message.
	BatchTimeout time.Duration
	// WriteTimeout bounds a single sink write attempt. Zero disables it.
	WriteTimeout time.Duration

	Reconnect ReconnectPolicy
	SinkRetry RetryPolicy

	// Observer receives runtime events. Nil means no-op.
	Observer Observer
}

var DefaultConfig = Config{
	Capacity:     DefaultCapacity,
	BatchSize:    100,
	BatchTimeout: time.Second,
	WriteTimeout: 30 * time.Second,
	Reconnect: ReconnectPolicy{
		MaxAttempts: 5,
		Backoff:     DefaultBackoff(),
	},
	SinkRetry: RetryPolicy{
		Attempts: 5,
		Backoff: Backoff{
			Min:    100 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2.0,
			Jitter: 0.2,
		},
	},
}

// Validate rejects values that cannot run. It never fills in defaults.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return &ConfigError{Field: "capacity", Reason: "must be > 0"}
	case c.BatchSize <= 0:
		return &ConfigError{Field: "batch_size", Reason: "must be > 0"}
	case c.BatchTimeout <= 0:
		return &ConfigError{Field: "batch_timeout", Reason: "must be > 0"}
	case c.WriteTimeout < 0:
		return &ConfigError{Field: "write_timeout", Reason: "must be >= 0"}
	case c.Reconnect.MaxAttempts < 0:
		return &ConfigError{Field: "reconnect.max_attempts", Reason: "must be >= 0"}
	case c.Reconnect.Backoff.Min < 0 || c.Reconnect.Backoff.Max < 0:
		return &ConfigError{Field: "reconnect.backoff", Reason: "delays must be >= 0"}
	case c.SinkRetry.Attempts < 1:
		return &ConfigError{Field: "sink_retry.attempts", Reason: "must be >= 1"}
	case c.SinkRetry.Backoff.Min < 0 || c.SinkRetry.Backoff.Max < 0:
		return &ConfigError{Field: "sink_retry.backoff", Reason: "delays must be >= 0"}
	}
	return nil
}

// Observer is notified of pipeline events. Implementations must be safe for
// concurrent use by both runners.
type Observer interface {
	MessageEnqueued(kind string, depth int)
	BatchFlushed(size int, elapsed time.Duration)
	SinkRetried(attempt int, err error)
	SourceReconnecting(attempt int, delay time.Duration, err error)
	RunnerExited(runner string, err error)
}

type nopObserver struct{}

func (nopObserver) MessageEnqueued(string, int)                  {}
func (nopObserver) BatchFlushed(int, time.Duration)              {}
func (nopObserver) SinkRetried(int, error)                       {}
func (nopObserver) SourceReconnecting(int, time.Duration, error) {}
func (nopObserver) RunnerExited(string, error)                   {}
