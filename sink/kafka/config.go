package kafka

import (
	"errors"

	"github.com/IBM/sarama"

	"tickflow/internal/config"
)

type Config struct {
	Brokers     []string `koanf:"brokers"`
	Topic       string   `koanf:"topic"`
	Acks        int16    `koanf:"required_acks"` // 0,1,-1
	Version     string   `koanf:"version"`
	Idempotent  bool     `koanf:"idempotent"`
	Compression string   `koanf:"compression"` // none|gzip|snappy|lz4|zstd
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `TICKFLOW_KAFKA_SINK__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	cfg := Config{Acks: int16(sarama.WaitForAll)}
	if err := config.LoadConnector(path, config.EnvPrefix("kafka_sink"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

func applyDefaults(c *Config) {
	if c.Version == "" {
		c.Version = sarama.V2_8_0_0.String()
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka-sink: brokers required")
	}
	if c.Topic == "" {
		return errors.New("kafka-sink: topic required")
	}
	return nil
}

func (c Config) sarama() (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "tickflow-sink"
	sc.Producer.RequiredAcks = sarama.RequiredAcks(c.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if err := sc.Producer.Compression.UnmarshalText([]byte(c.Compression)); err != nil {
		return nil, err
	}
	if c.Idempotent {
		sc.Producer.Idempotent = true
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Net.MaxOpenRequests = 1
	}
	return sc, sc.Validate()
}
