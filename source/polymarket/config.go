package polymarket

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"tickflow/internal/config"
)

const DefaultBaseURL = "https://gamma-api.polymarket.com"

const dateLayout = "2006-01-02"

type Config struct {
	BaseURL  string `koanf:"base_url"`
	PageSize int    `koanf:"page_size"`
	// EndDateMin filters out markets ending before this day (YYYY-MM-DD).
	// Empty means the current UTC day at the start of each sweep.
	EndDateMin string `koanf:"end_date_min"`

	RequestDelay time.Duration `koanf:"request_delay"` // pause between pages of one sweep
	PollInterval time.Duration `koanf:"poll_interval"` // 0 = one sweep, then io.EOF
	Timeout      time.Duration `koanf:"timeout"`
}

// LoadConfig merges YAML (if present) with env-vars (prefix
// `TICKFLOW_POLYMARKET__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadConnector(path, config.EnvPrefix("polymarket"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

func applyDefaults(c *Config) {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize == 0 {
		c.PageSize = 500
	}
	if c.RequestDelay == 0 {
		c.RequestDelay = 200 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c Config) validate() error {
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("polymarket: base_url: %w", err)
	}
	if c.PageSize < 0 {
		return errors.New("polymarket: page_size must be positive")
	}
	if c.RequestDelay < 0 || c.PollInterval < 0 {
		return errors.New("polymarket: request_delay and poll_interval must not be negative")
	}
	if c.EndDateMin != "" {
		if _, err := time.Parse(dateLayout, c.EndDateMin); err != nil {
			return fmt.Errorf("polymarket: end_date_min: %w", err)
		}
	}
	return nil
}
