package synthetic

import (
	"time"

	"tickflow/internal/config"
)

type Config struct {
	Symbols   []string      `koanf:"symbols"`
	Kinds     []string      `koanf:"kinds"`
	BasePrice float64       `koanf:"base_price"`
	Spread    float64       `koanf:"spread"`
	Size      float64       `koanf:"size"`
	Interval  time.Duration `koanf:"interval"` // 0 = as fast as the channel accepts
	Limit     int           `koanf:"limit"`    // 0 = unbounded; otherwise io.EOF after Limit events

	// DisconnectEvery simulates a dropped feed after every N events.
	DisconnectEvery int `koanf:"disconnect_every"`
}

// LoadConfig merges YAML (if present) with env-vars (prefix
// `TICKFLOW_SYNTHETIC__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadConnector(path, config.EnvPrefix("synthetic"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"AAPL", "MSFT", "NVDA"}
	}
	if len(c.Kinds) == 0 {
		c.Kinds = []string{"bar", "quote", "trade"}
	}
	if c.BasePrice <= 0 {
		c.BasePrice = 100
	}
	if c.Spread < 0 {
		c.Spread = 0
	}
	if c.Size <= 0 {
		c.Size = 100
	}
}
