// Package kafka publishes market events to a Kafka topic, keyed by symbol so
// each symbol stays ordered within its partition.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"tickflow/internal/marketdata"
	"tickflow/sink"
)

func init() {
	sink.Register("kafka", func(path string) (sink.Sink, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

var _ sink.Sink = (*driver)(nil)

func New(cfg Config) (sink.Sink, error) {
	sc, err := cfg.sarama()
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: %w", err)
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: producer: %w", err)
	}
	return &driver{cfg: cfg, p: p}, nil
}

func (d *driver) Name() string { return "kafka" }

// Init is a no-op; topics are provisioned outside tickflow.
func (d *driver) Init(context.Context) error { return nil }

// Write publishes the whole batch and waits for every acknowledgement. A
// retried batch may be published twice unless the producer is idempotent.
func (d *driver) Write(ctx context.Context, batch sink.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, e := range batch {
		b, err := marketdata.Marshal(e)
		if err != nil {
			return fmt.Errorf("kafka-sink: encode %s: %w", e.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:     d.cfg.Topic,
			Key:       sarama.StringEncoder(e.Symbol),
			Value:     sarama.ByteEncoder(b),
			Timestamp: e.Timestamp,
			Headers: []sarama.RecordHeader{
				{Key: []byte("kind"), Value: []byte(e.Kind())},
				{Key: []byte("id"), Value: []byte(e.ID)},
			},
		})
	}
	if err := d.p.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			return fmt.Errorf("kafka-sink: %d of %d messages failed: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return fmt.Errorf("kafka-sink: %w", err)
	}
	return nil
}

func (d *driver) Close() error {
	return d.p.Close()
}
