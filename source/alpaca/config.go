package alpaca

import (
	"errors"
	"os"
	"time"

	"tickflow/internal/config"
)

const DefaultURL = "wss://stream.data.alpaca.markets/v2/iex"

type Config struct {
	URL    string `koanf:"url"`
	Key    string `koanf:"key"`
	Secret string `koanf:"secret"`

	Bars   []string `koanf:"bars"`
	Quotes []string `koanf:"quotes"`
	Trades []string `koanf:"trades"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	// ReadTimeout drops the connection when nothing (not even a ping) arrives
	// for this long.
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

var ErrMissingCredentials = errors.New("alpaca: key and secret are required")

// LoadConfig merges YAML (if present) with env-vars (prefix
// `TICKFLOW_ALPACA__`, delimiter `__`). The standard APCA_API_KEY_ID,
// APCA_API_SECRET_KEY and APCA_WS_URL variables fill anything left unset.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadConnector(path, config.EnvPrefix("alpaca"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

func applyDefaults(c *Config) {
	if c.Key == "" {
		c.Key = os.Getenv("APCA_API_KEY_ID")
	}
	if c.Secret == "" {
		c.Secret = os.Getenv("APCA_API_SECRET_KEY")
	}
	if c.URL == "" {
		c.URL = os.Getenv("APCA_WS_URL")
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 90 * time.Second
	}
}

func (c Config) validate() error {
	if c.Key == "" || c.Secret == "" {
		return ErrMissingCredentials
	}
	if len(c.Bars)+len(c.Quotes)+len(c.Trades) == 0 {
		return errors.New("alpaca: nothing to subscribe (bars, quotes, trades all empty)")
	}
	return nil
}
