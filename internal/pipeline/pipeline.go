// Package pipeline moves messages from one Source to one Sink through a
// bounded channel.
//
// Start wires a source runner and a processor runner around a Channel. The
// source runner applies backpressure (it blocks when the channel is full) and
// reconnects after transient failures. The processor runner groups messages
// into batches, flushes them on size or time and retries failed writes. The
// two runners only share the channel and the shutdown signal.
package pipeline

import (
	"context"
	"log/slog"

	"tickflow/internal/logging"
)

// Start validates cfg, builds the channel and launches both runners.
//
// Canceling ctx (or calling Handles.Stop) is the graceful shutdown signal.
// The caller must join the returned handles and treat either failure as
// authoritative; runners are never restarted.
func Start[M Message](ctx context.Context, src Source[M], sink Sink[M], cfg Config) (*Handles, error) {
	if any(src) == nil {
		return nil, ErrNilSource
	}
	if any(sink) == nil {
		return nil, ErrNilSink
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch, err := NewChannel[M](cfg.Capacity)
	if err != nil {
		return nil, err
	}

	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log := logging.L().With("sink", sink.Name())

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handles{
		Source:    newHandle(RunnerSource),
		Processor: newHandle(RunnerProcessor),
		stop:      cancel,
	}

	sr := &sourceRunner[M]{
		src:    src,
		ch:     ch,
		policy: cfg.Reconnect,
		obs:    obs,
		log:    log.With("runner", RunnerSource),
	}
	pr := newProcessor(sink, ch, cfg, obs, log.With("runner", RunnerProcessor))

	go h.Source.run(func() error {
		err := sr.run(runCtx)
		report(obs, log, RunnerSource, err)
		return err
	})
	go h.Processor.run(func() error {
		err := pr.run(context.WithoutCancel(runCtx))
		if err != nil {
			// Nothing drains the channel any more; release a blocked source.
			cancel()
		}
		report(obs, log, RunnerProcessor, err)
		return err
	})
	go func() {
		<-h.Source.Done()
		<-h.Processor.Done()
		cancel()
	}()

	return h, nil
}

func report(obs Observer, log *slog.Logger, runner string, err error) {
	obs.RunnerExited(runner, err)
	if err != nil {
		log.Error("runner failed", "runner", runner, "err", err)
		return
	}
	log.Info("runner stopped", "runner", runner)
}
