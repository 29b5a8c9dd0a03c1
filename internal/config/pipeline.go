package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"tickflow/internal/pipeline"
	"tickflow/internal/spec"
)

const SupportedSchema = "v1"

// ChannelSizeEnv sets channel_capacity when the pipeline file leaves it unset.
const ChannelSizeEnv = "DATAFEED_CHANNEL_SIZE"

var ErrMissingDriver = errors.New("config: driver not set")

// LoadPipelineSpec parses a pipeline YAML, validates schema_version and
// resolves connector config paths against the file's directory.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.Source.Driver == "" {
		return cfg, fmt.Errorf("source: %w", ErrMissingDriver)
	}
	if cfg.Sink.Driver == "" {
		return cfg, fmt.Errorf("sink: %w", ErrMissingDriver)
	}

	if cfg.Pipeline.ChannelCapacity == 0 {
		if v, ok := os.LookupEnv(ChannelSizeEnv); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", ChannelSizeEnv, err)
			}
			cfg.Pipeline.ChannelCapacity = n
		}
	}

	dir := filepath.Dir(path)
	cfg.Source.Config = resolve(dir, cfg.Source.Config)
	cfg.Sink.Config = resolve(dir, cfg.Sink.Config)
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// PipelineConfig turns the pipeline section into a pipeline.Config. Unset
// values take pipeline.DefaultConfig; the result is not validated here.
func PipelineConfig(s spec.PipelineSection) pipeline.Config {
	cfg := pipeline.DefaultConfig

	if s.ChannelCapacity != 0 {
		cfg.Capacity = s.ChannelCapacity
	}
	if s.BatchSize != 0 {
		cfg.BatchSize = s.BatchSize
	}
	if s.BatchTimeout != 0 {
		cfg.BatchTimeout = s.BatchTimeout
	}
	if s.WriteTimeout != 0 {
		cfg.WriteTimeout = s.WriteTimeout
	}

	if s.Reconnect.MaxAttempts != nil {
		cfg.Reconnect.MaxAttempts = *s.Reconnect.MaxAttempts
	}
	cfg.Reconnect.Backoff = mergeBackoff(cfg.Reconnect.Backoff, s.Reconnect.BackoffSection)

	if s.SinkRetry.Attempts != 0 {
		cfg.SinkRetry.Attempts = s.SinkRetry.Attempts
	}
	cfg.SinkRetry.Backoff = mergeBackoff(cfg.SinkRetry.Backoff, s.SinkRetry.BackoffSection)
	return cfg
}

func mergeBackoff(b pipeline.Backoff, s spec.BackoffSection) pipeline.Backoff {
	if s.Min != 0 {
		b.Min = s.Min
	}
	if s.Max != 0 {
		b.Max = s.Max
	}
	if s.Factor != 0 {
		b.Factor = s.Factor
	}
	if s.Jitter != 0 {
		b.Jitter = s.Jitter
	}
	return b
}
