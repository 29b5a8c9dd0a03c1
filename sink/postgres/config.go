package postgres

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"tickflow/internal/config"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Config selects the database either by DSN or by its parts. DATABASE_URL is
// used when neither is set.
type Config struct {
	DSN      string            `koanf:"dsn"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Database string            `koanf:"database"`
	SSLMode  string            `koanf:"sslmode"`
	Params   map[string]string `koanf:"params"`

	// ChunkSize caps the rows per INSERT statement.
	ChunkSize    int           `koanf:"chunk_size"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	ConnMaxIdle  time.Duration `koanf:"conn_max_idle"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TICKFLOW_POSTGRES__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadConnector(path, config.EnvPrefix("postgres"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.DSN == "" && c.Host == "" && c.Database == "" {
		c.DSN = os.Getenv("DATABASE_URL")
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.ConnMaxIdle == 0 {
		c.ConnMaxIdle = 5 * time.Minute
	}
}

func (c Config) dsn() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	if c.Database == "" {
		return "", errors.New("postgres: dsn or database required")
	}

	host := c.Host
	if host == "" {
		host = defaultHost
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range c.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
