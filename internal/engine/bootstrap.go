package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"

	"tickflow/internal/config"
	"tickflow/internal/logging"
	"tickflow/internal/telemetry"
	"tickflow/internal/transport"
	"tickflow/sink"
	"tickflow/source"
)

// Config is the process level wiring. Empty addresses fall back to the
// server section of the pipeline file; if both are empty the listener is
// not started.
type Config struct {
	PipelineYml string
	GRPCAddr    string
	MetricsAddr string

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Bootstrap loads the pipeline file, builds the connectors, initialises the
// sink schema and starts the auxiliary listeners. The pipeline itself starts
// in Run.
func Bootstrap(ctx context.Context, cfg Config) (_ *Engine, err error) {
	log := logging.L()

	// 1. pipeline spec
	file, err := config.LoadPipelineSpec(cfg.PipelineYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline spec: %w", err)
	}
	pcfg := config.PipelineConfig(file.Pipeline)
	if err := pcfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{pcfg: pcfg}
	defer func() {
		if err != nil {
			if e.src != nil {
				_ = e.src.Close()
			}
			e.shutdown()
		}
	}()

	// 2. connectors
	if e.src, err = source.New(file.Source.Driver, file.Source.Config); err != nil {
		return nil, fmt.Errorf("source %s: %w", file.Source.Driver, err)
	}
	if e.snk, err = sink.New(file.Sink.Driver, file.Sink.Config); err != nil {
		return nil, fmt.Errorf("sink %s: %w", file.Sink.Driver, err)
	}
	if err = e.snk.Init(ctx); err != nil {
		return nil, fmt.Errorf("sink %s init: %w", file.Sink.Driver, err)
	}

	// 3. metrics
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics := telemetry.NewPipelineMetrics(reg)
	if err = metrics.Register(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	e.pcfg.Observer = metrics
	if addr := pick(cfg.MetricsAddr, file.Server.MetricsAddr); addr != "" {
		gatherer, _ := reg.(prometheus.Gatherer)
		e.metrics = telemetry.Expose(addr, gatherer)
		log.Info("metrics listening", "addr", addr)
	}

	// 4. transport server
	if addr := pick(cfg.GRPCAddr, file.Server.GRPCAddr); addr != "" {
		if e.transport, err = transport.StartServer(addr); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		log.Info("health service listening", "addr", e.transport.Addr())
	}

	// 5. profiling
	if p := file.Profiling; p.Enabled {
		e.profiler, err = pyroscope.Start(pyroscope.Config{
			ApplicationName: p.AppName,
			ServerAddress:   p.ServerAddress,
			Tags: map[string]string{
				"source": file.Source.Driver,
				"sink":   file.Sink.Driver,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("pyroscope: %w", err)
		}
	}

	log.Info("engine ready", "source", file.Source.Driver, "sink", file.Sink.Driver,
		"capacity", pcfg.Capacity, "batch_size", pcfg.BatchSize, "batch_timeout", pcfg.BatchTimeout)
	return e, nil
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Check validates the pipeline file and that both drivers are registered
// without building any connector.
func Check(path string) error {
	file, err := config.LoadPipelineSpec(path)
	if err != nil {
		return err
	}
	var errs []error
	if !registered(source.Drivers(), file.Source.Driver) {
		errs = append(errs, fmt.Errorf("source: unknown driver %q (have %v)", file.Source.Driver, source.Drivers()))
	}
	if !registered(sink.Drivers(), file.Sink.Driver) {
		errs = append(errs, fmt.Errorf("sink: unknown driver %q (have %v)", file.Sink.Driver, sink.Drivers()))
	}
	if err := config.PipelineConfig(file.Pipeline).Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func registered(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
