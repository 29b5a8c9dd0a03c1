package pipeline

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"tickflow/internal/logging"
)

func startT(t *testing.T, src *fakeSource, sink *fakeSink, cfg Config) *Handles {
	t.Helper()
	h, err := Start[tick](context.Background(), src, sink, cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func joinT(t *testing.T, h *Handles) error {
	t.Helper()
	ctx, cancel := waitCtx(5 * time.Second)
	defer cancel()
	err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatal("runners did not terminate")
	}
	return err
}

func seqs(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPipeline_DeliversEverythingOnEOF(t *testing.T) {
	src := &fakeSource{steps: ticks(10)}
	sink := newFakeSink()
	h := startT(t, src, sink, testConfig())

	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(10)) {
		t.Fatalf("delivered %v", got)
	}
	for _, n := range sink.sizes() {
		if n > 4 {
			t.Fatalf("batch of %d exceeds batch size", n)
		}
	}
	if !src.closed.Load() {
		t.Fatal("source not closed")
	}
	if h.Source.Err() != nil || h.Processor.Err() != nil {
		t.Fatalf("unexpected runner errors: %v / %v", h.Source.Err(), h.Processor.Err())
	}
}

func TestPipeline_FlushesOnSizeThenTimeout(t *testing.T) {
	steps := append(ticks(3), step{block: true})
	src := &fakeSource{steps: steps}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = 100 * time.Millisecond
	h := startT(t, src, sink, cfg)

	for i, want := range []int{2, 1} {
		select {
		case n := <-sink.flushed:
			if n != want {
				t.Fatalf("flush %d: size %d want %d", i, n, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("flush %d never happened", i)
		}
	}

	h.Stop()
	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(3)) {
		t.Fatalf("delivered %v", got)
	}
}

func TestPipeline_TimeoutFlushWaitsForBatchTimeout(t *testing.T) {
	src := &fakeSource{steps: append(ticks(1), step{block: true})}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.BatchTimeout = 150 * time.Millisecond
	start := time.Now()
	h := startT(t, src, sink, cfg)

	select {
	case <-sink.flushed:
		if el := time.Since(start); el < 140*time.Millisecond {
			t.Fatalf("flushed after %v, before the batch timeout", el)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout flush never happened")
	}
	h.Stop()
	_ = joinT(t, h)
}

func TestPipeline_SinkRetryDeliversOnce(t *testing.T) {
	src := &fakeSource{steps: ticks(3)}
	sink := newFakeSink()
	sink.failures = []error{errBoom}
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.Observer = obs
	h := startT(t, src, sink, cfg)

	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(3)) {
		t.Fatalf("delivered %v", got)
	}
	if w := sink.writes.Load(); w != 2 {
		t.Fatalf("writes = %d want 2", w)
	}
	if !slices.Equal(obs.retries, []int{1}) {
		t.Fatalf("retries = %v", obs.retries)
	}
}

func TestPipeline_SinkRetryExhaustedStopsSource(t *testing.T) {
	src := &fakeSource{steps: append(ticks(2), step{block: true})}
	sink := newFakeSink()
	sink.failures = []error{errBoom, errBoom, errBoom}
	cfg := testConfig()
	cfg.BatchSize = 2
	h := startT(t, src, sink, cfg)

	err := joinT(t, h)
	if !errors.Is(err, ErrSinkRetryExhausted) || !errors.Is(err, errBoom) {
		t.Fatalf("want sink retry exhaustion, got %v", err)
	}
	var re *RunnerError
	if !errors.As(h.Processor.Err(), &re) || re.Runner != RunnerProcessor {
		t.Fatalf("processor err = %v", h.Processor.Err())
	}
	if h.Source.Err() != nil {
		t.Fatalf("source should stop cleanly, got %v", h.Source.Err())
	}
	if w := sink.writes.Load(); w != 3 {
		t.Fatalf("writes = %d want 3", w)
	}
}

func TestPipeline_ReconnectBackoffThenExhaustion(t *testing.T) {
	steps := ticks(2)
	for i := 0; i < 4; i++ {
		steps = append(steps, step{err: Transient(errBoom)})
	}
	src := &fakeSource{steps: steps}
	sink := newFakeSink()
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.Observer = obs
	h := startT(t, src, sink, cfg)

	err := joinT(t, h)
	if !errors.Is(h.Source.Err(), ErrReconnectExhausted) {
		t.Fatalf("source err = %v", h.Source.Err())
	}
	var up *UpstreamError
	if !errors.As(h.Processor.Err(), &up) {
		t.Fatalf("processor err = %v", h.Processor.Err())
	}
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("joined err = %v", err)
	}

	if len(obs.delays) != 3 {
		t.Fatalf("reconnect delays = %v", obs.delays)
	}
	for i := 1; i < len(obs.delays); i++ {
		if obs.delays[i] <= obs.delays[i-1] {
			t.Fatalf("delays not strictly increasing: %v", obs.delays)
		}
	}
	if c := src.connects.Load(); c != 4 {
		t.Fatalf("connects = %d want 4", c)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(2)) {
		t.Fatalf("messages before the failure were lost: %v", got)
	}
}

func TestPipeline_ReconnectCounterResetsOnSuccess(t *testing.T) {
	var steps []step
	for _, s := range ticks(5) {
		steps = append(steps, step{err: Transient(errBoom)}, s)
	}
	src := &fakeSource{steps: steps}
	sink := newFakeSink()
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 1
	h := startT(t, src, sink, cfg)

	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(5)) {
		t.Fatalf("delivered %v", got)
	}
}

func TestPipeline_TransientConnectErrorRetries(t *testing.T) {
	src := &fakeSource{steps: ticks(2), connErrs: []error{Transient(errBoom)}}
	sink := newFakeSink()
	h := startT(t, src, sink, testConfig())

	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if c := src.connects.Load(); c != 2 {
		t.Fatalf("connects = %d want 2", c)
	}
}

func TestPipeline_FatalSourceError(t *testing.T) {
	src := &fakeSource{steps: append(ticks(1), step{err: errBoom})}
	sink := newFakeSink()
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.Observer = obs
	h := startT(t, src, sink, cfg)

	_ = joinT(t, h)
	if !errors.Is(h.Source.Err(), errBoom) {
		t.Fatalf("source err = %v", h.Source.Err())
	}
	if len(obs.delays) != 0 {
		t.Fatalf("fatal error must not reconnect, delays %v", obs.delays)
	}
	if got := sink.delivered(); !slices.Equal(got, []int{1}) {
		t.Fatalf("delivered %v", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.exits[RunnerSource] == nil || obs.exits[RunnerProcessor] == nil {
		t.Fatalf("exits = %v", obs.exits)
	}
}

func TestPipeline_GracefulShutdownDrainsBuffer(t *testing.T) {
	const n = 20
	src := &fakeSource{steps: append(ticks(n), step{block: true})}
	sink := newFakeSink()
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.Capacity = 32
	cfg.BatchSize = 100
	cfg.BatchTimeout = time.Hour
	cfg.Observer = obs
	h := startT(t, src, sink, cfg)

	deadline := time.Now().Add(2 * time.Second)
	for obs.enqueued.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d messages enqueued", obs.enqueued.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.writes.Load() != 0 {
		t.Fatal("nothing should flush before shutdown")
	}

	h.Stop()
	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(n)) {
		t.Fatalf("delivered %v", got)
	}
	if obs.flushes.Load() != 1 {
		t.Fatalf("flushes = %d want 1", obs.flushes.Load())
	}
}

func TestPipeline_ParentCancelIsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{steps: append(ticks(3), step{block: true})}
	sink := newFakeSink()
	h, err := Start[tick](ctx, src, sink, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(3)) {
		t.Fatalf("delivered %v", got)
	}
}

func TestPipeline_SourcePanicIsUpstreamFailure(t *testing.T) {
	src := &fakeSource{steps: append(ticks(2), step{panic: true})}
	sink := newFakeSink()
	h := startT(t, src, sink, testConfig())

	err := joinT(t, h)
	if err == nil {
		t.Fatal("want failure")
	}
	var re *RunnerError
	if !errors.As(h.Source.Err(), &re) || re.Runner != RunnerSource {
		t.Fatalf("source err = %v", h.Source.Err())
	}
	var up *UpstreamError
	if !errors.As(h.Processor.Err(), &up) {
		t.Fatalf("processor must report the upstream failure, got %v", h.Processor.Err())
	}
	if got := sink.delivered(); !slices.Equal(got, seqs(2)) {
		t.Fatalf("delivered %v", got)
	}
	if !src.closed.Load() {
		t.Fatal("source not closed")
	}
}

func TestPipeline_SinkPanicReleasesBlockedSource(t *testing.T) {
	src := &fakeSource{steps: append(ticks(20), step{block: true})}
	sink := newFakeSink()
	sink.panics = true
	cfg := testConfig()
	cfg.Capacity = 2
	cfg.BatchSize = 1
	h := startT(t, src, sink, cfg)

	err := joinT(t, h)
	var re *RunnerError
	if !errors.As(err, &re) || re.Runner != RunnerProcessor {
		t.Fatalf("want processor failure, got %v", err)
	}
	if h.Source.Err() != nil {
		t.Fatalf("source should stop cleanly, got %v", h.Source.Err())
	}
}

func TestPipeline_ProcessorLogsCarrySinkOnce(t *testing.T) {
	var buf bytes.Buffer
	logging.Configure(logging.Options{Level: "debug", Output: &buf})
	t.Cleanup(func() { logging.Configure(logging.Options{}) })

	src := &fakeSource{steps: ticks(3)}
	h := startT(t, src, newFakeSink(), testConfig())
	if err := joinT(t, h); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var seen int
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, "runner=processor") {
			continue
		}
		seen++
		if n := strings.Count(line, "sink="); n != 1 {
			t.Fatalf("sink attribute appears %d times: %s", n, line)
		}
	}
	if seen == 0 {
		t.Fatalf("no processor log lines in %q", buf.String())
	}
}
