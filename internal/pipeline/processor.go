package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tickflow/pipeline"

type processor[M Message] struct {
	sink   Sink[M]
	ch     *Channel[M]
	cfg    Config
	obs    Observer
	log    *slog.Logger
	tracer trace.Tracer
}

func newProcessor[M Message](sink Sink[M], ch *Channel[M], cfg Config, obs Observer, log *slog.Logger) *processor[M] {
	return &processor[M]{
		sink:   sink,
		ch:     ch,
		cfg:    cfg,
		obs:    obs,
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

// run drains the channel into batches until end of stream or a fatal sink
// failure. ctx should not carry the shutdown signal: buffered messages are
// always drained after the source closes the channel. A panicking sink is
// reported as an error so the caller can release the source.
func (p *processor[M]) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	p.log.Info("processor started", "batch_size", p.cfg.BatchSize, "batch_timeout", p.cfg.BatchTimeout)

	batch := p.newBatch()
	var deadline time.Time
	for {
		// Recv prefers buffered messages over an expired deadline.
		if len(batch) > 0 && !time.Now().Before(deadline) {
			if err := p.flush(ctx, batch); err != nil {
				return err
			}
			batch = p.newBatch()
		}

		recvCtx, cancel := ctx, context.CancelFunc(func() {})
		if len(batch) > 0 {
			recvCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		msg, err := p.ch.Recv(recvCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if err := p.flush(ctx, batch); err != nil {
					return err
				}
				batch = p.newBatch()
				continue
			}

			if ferr := p.flush(ctx, batch); ferr != nil {
				if errors.Is(err, ErrEndOfStream) {
					return ferr
				}
				return errors.Join(ferr, err)
			}
			if errors.Is(err, ErrEndOfStream) {
				p.log.Info("processor drained channel")
				return nil
			}
			return err
		}

		if len(batch) == 0 {
			deadline = time.Now().Add(p.cfg.BatchTimeout)
		}
		batch = append(batch, msg)
		if len(batch) >= p.cfg.BatchSize {
			if err := p.flush(ctx, batch); err != nil {
				return err
			}
			batch = p.newBatch()
		}
	}
}

func (p *processor[M]) newBatch() Batch[M] {
	return make(Batch[M], 0, p.cfg.BatchSize)
}

// flush writes batch with retries. The same batch value is handed to every
// attempt so nothing is dropped or duplicated across the retry boundary.
func (p *processor[M]) flush(ctx context.Context, batch Batch[M]) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.flush",
		trace.WithAttributes(
			attribute.String("sink", p.sink.Name()),
			attribute.Int("batch.size", len(batch)),
		),
	)
	defer span.End()

	start := time.Now()
	err := p.cfg.SinkRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		if p.cfg.WriteTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.WriteTimeout)
			defer cancel()
		}
		err := p.sink.Write(ctx, batch)
		if err != nil && attempt < p.cfg.SinkRetry.Attempts {
			p.log.Warn("sink write failed, retrying", "attempt", attempt, "size", len(batch), "err", err)
			p.obs.SinkRetried(attempt, err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink write failed")
		return fmt.Errorf("%w (%d attempts, sink %s): %w", ErrSinkRetryExhausted, p.cfg.SinkRetry.Attempts, p.sink.Name(), err)
	}

	elapsed := time.Since(start)
	p.obs.BatchFlushed(len(batch), elapsed)
	p.log.Debug("batch flushed", "size", len(batch), "elapsed", elapsed)
	return nil
}
