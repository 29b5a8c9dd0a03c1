package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type tick struct {
	Seq int
	At  time.Time
}

func (t tick) Kind() string    { return "tick" }
func (t tick) Time() time.Time { return t.At }

// step is one scripted result of fakeSource.Next.
type step struct {
	msg   tick
	err   error
	block bool
	panic bool
}

type fakeSource struct {
	mu       sync.Mutex
	steps    []step
	connErrs []error

	connects atomic.Int32
	closed   atomic.Bool
}

var _ Source[tick] = (*fakeSource)(nil)

func ticks(n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = step{msg: tick{Seq: i + 1, At: time.Unix(int64(i), 0)}}
	}
	return out
}

func (s *fakeSource) Connect(ctx context.Context) error {
	s.connects.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.connErrs) > 0 {
		err := s.connErrs[0]
		s.connErrs = s.connErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSource) Next(ctx context.Context) (tick, error) {
	s.mu.Lock()
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return tick{}, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if st.panic {
		panic("source boom")
	}
	if st.block {
		<-ctx.Done()
		return tick{}, ctx.Err()
	}
	return st.msg, st.err
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	batches []Batch[tick]

	// failures is consumed one entry per Write; nil entries succeed.
	failures []error
	writes   atomic.Int32
	flushed  chan int
	panics   bool
}

var _ Sink[tick] = (*fakeSink)(nil)

func newFakeSink() *fakeSink {
	return &fakeSink{flushed: make(chan int, 64)}
}

func (s *fakeSink) Name() string                   { return "fake" }
func (s *fakeSink) Init(ctx context.Context) error { return nil }
func (s *fakeSink) Close() error                   { return nil }

func (s *fakeSink) Write(ctx context.Context, batch Batch[tick]) error {
	s.writes.Add(1)
	if s.panics {
		panic("sink boom")
	}
	s.mu.Lock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	cp := make(Batch[tick], len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	s.mu.Unlock()

	select {
	case s.flushed <- len(batch):
	default:
	}
	return nil
}

func (s *fakeSink) delivered() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		for _, m := range b {
			out = append(out, m.Seq)
		}
	}
	return out
}

func (s *fakeSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

// recordingObserver captures reconnect delays and flushes.
type recordingObserver struct {
	mu       sync.Mutex
	delays   []time.Duration
	retries  []int
	enqueued atomic.Int32
	flushes  atomic.Int32
	exits    map[string]error
}

func (o *recordingObserver) MessageEnqueued(string, int)     { o.enqueued.Add(1) }
func (o *recordingObserver) BatchFlushed(int, time.Duration) { o.flushes.Add(1) }
func (o *recordingObserver) SinkRetried(attempt int, _ error) {
	o.mu.Lock()
	o.retries = append(o.retries, attempt)
	o.mu.Unlock()
}
func (o *recordingObserver) SourceReconnecting(_ int, d time.Duration, _ error) {
	o.mu.Lock()
	o.delays = append(o.delays, d)
	o.mu.Unlock()
}
func (o *recordingObserver) RunnerExited(runner string, err error) {
	o.mu.Lock()
	if o.exits == nil {
		o.exits = map[string]error{}
	}
	o.exits[runner] = err
	o.mu.Unlock()
}

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		Capacity:     8,
		BatchSize:    4,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: time.Second,
		Reconnect: ReconnectPolicy{
			MaxAttempts: 3,
			Backoff:     Backoff{Min: time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
		},
		SinkRetry: RetryPolicy{
			Attempts: 3,
			Backoff:  Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
		},
	}
}

func waitCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
