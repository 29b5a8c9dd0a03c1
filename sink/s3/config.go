package s3

import (
	"errors"

	"tickflow/internal/config"
)

type Config struct {
	Bucket      string `koanf:"bucket"`
	Prefix      string `koanf:"prefix"`
	Region      string `koanf:"region"`
	Endpoint    string `koanf:"endpoint"`       // e.g. http://localhost:4566 for LocalStack
	PathStyle   bool   `koanf:"use_path_style"` // required by most S3 emulators
	Compression string `koanf:"compression"`    // ""|snappy|gzip|zstd
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TICKFLOW_S3__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadConnector(path, config.EnvPrefix("s3"), &cfg); err != nil {
		return cfg, err
	}
	if cfg.Compression == "" {
		cfg.Compression = "snappy"
	}
	if cfg.Bucket == "" {
		return cfg, errors.New("s3: bucket required")
	}
	return cfg, nil
}
