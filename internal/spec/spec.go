package spec

import "time"

// ConnectorSpec selects a registered driver and points at its config file.
type ConnectorSpec struct {
	Driver string `yaml:"driver"`
	// Config is resolved relative to the pipeline file. Empty means env only.
	Config string `yaml:"config"`
}

type BackoffSection struct {
	Min    time.Duration `yaml:"min_backoff"`
	Max    time.Duration `yaml:"max_backoff"`
	Factor float64       `yaml:"factor"`
	Jitter float64       `yaml:"jitter"`
}

type ReconnectSection struct {
	// MaxAttempts is a pointer so an explicit 0 (fail on first drop) is
	// distinguishable from unset.
	MaxAttempts    *int `yaml:"max_attempts"`
	BackoffSection `yaml:",inline"`
}

type RetrySection struct {
	Attempts       int `yaml:"attempts"`
	BackoffSection `yaml:",inline"`
}

type PipelineSection struct {
	ChannelCapacity int              `yaml:"channel_capacity"`
	BatchSize       int              `yaml:"batch_size"`
	BatchTimeout    time.Duration    `yaml:"batch_timeout"`
	WriteTimeout    time.Duration    `yaml:"write_timeout"`
	Reconnect       ReconnectSection `yaml:"reconnect"`
	SinkRetry       RetrySection     `yaml:"sink_retry"`
}

type ServerSection struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type ProfilingSection struct {
	Enabled       bool   `yaml:"enabled"`
	AppName       string `yaml:"app_name"`
	ServerAddress string `yaml:"server_address"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source ConnectorSpec `yaml:"source"`
	Sink   ConnectorSpec `yaml:"sink"`

	Pipeline  PipelineSection  `yaml:"pipeline"`
	Server    ServerSection    `yaml:"server"`
	Profiling ProfilingSection `yaml:"profiling"`
}
