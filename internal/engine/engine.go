package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grafana/pyroscope-go"

	"tickflow/internal/logging"
	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
	"tickflow/internal/transport"
	"tickflow/sink"
	"tickflow/source"
)

type Engine struct {
	pcfg pipeline.Config
	src  source.Source
	snk  sink.Sink

	transport *transport.Server
	metrics   *http.Server
	profiler  *pyroscope.Profiler
}

// Run starts the pipeline and blocks until both runners have stopped.
// Canceling ctx is the graceful shutdown: buffered events are flushed
// before Run returns. The error joins every runner failure.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	h, err := pipeline.Start[marketdata.Event](ctx, e.src, e.snk, e.pcfg)
	if err != nil {
		_ = e.src.Close()
		return err
	}

	if e.transport != nil {
		go func() {
			if err := e.transport.Serve(); err != nil {
				logging.L().Error("health server stopped", "err", err)
			}
		}()
		e.transport.SetServing(transport.ServiceOverall, true)
		for _, rh := range []*pipeline.Handle{h.Source, h.Processor} {
			service := transport.ServiceSource
			if rh == h.Processor {
				service = transport.ServiceProcessor
			}
			e.transport.SetServing(service, true)
			go func() {
				<-rh.Done()
				e.transport.SetServing(service, false)
				e.transport.SetServing(transport.ServiceOverall, false)
			}()
		}
	}

	return h.Wait(context.Background())
}

func (e *Engine) shutdown() {
	log := logging.L()
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.metrics.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics shutdown", "err", err)
		}
		cancel()
	}
	if e.profiler != nil {
		_ = e.profiler.Stop()
	}
	if e.snk != nil {
		if err := e.snk.Close(); err != nil {
			log.Warn("sink close", "err", err)
		}
	}
}
