package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickflow/internal/engine"
	"tickflow/internal/logging"
	"tickflow/sink"
	"tickflow/source"

	_ "tickflow/sink/kafka"
	_ "tickflow/sink/postgres"
	_ "tickflow/sink/s3"
	_ "tickflow/sink/stdout"
	_ "tickflow/source/alpaca"
	_ "tickflow/source/kafka"
	_ "tickflow/source/polymarket"
	_ "tickflow/source/synthetic"
)

func main() {
	var (
		cfg   engine.Config
		check bool
	)
	flag.StringVar(&cfg.PipelineYml, "config", "pipeline.yml", "pipeline file")
	flag.StringVar(&cfg.GRPCAddr, "grpc", "", "gRPC health listen address (overrides server.grpc_addr)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics listen address (overrides server.metrics_addr)")
	flag.BoolVar(&check, "check", false, "validate the pipeline file and exit")
	flag.Parse()

	logging.InitFromEnv()
	log := logging.L()

	if check {
		if err := engine.Check(cfg.PipelineYml); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\nsources: %v\nsinks: %v\n", cfg.PipelineYml, err, source.Drivers(), sink.Drivers())
			os.Exit(1)
		}
		fmt.Printf("%s: ok\n", cfg.PipelineYml)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		log.Error("pipeline failed", "err", err)
		stop()
		os.Exit(1)
	}
	log.Info("pipeline finished")
}
