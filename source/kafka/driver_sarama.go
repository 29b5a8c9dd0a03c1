// Package kafka consumes JSON encoded market events from Kafka topics through
// a sarama consumer group.
//
// An offset is marked when its event is handed to the pipeline, so events
// still buffered in the pipeline channel at a crash are not redelivered.
// A rebalance or reconnect resumes from the last committed offset.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"tickflow/internal/logging"
	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
	"tickflow/source"
)

func init() {
	source.Register("kafka", func(path string) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}

type delivery struct {
	msg  *sarama.ConsumerMessage
	sess sarama.ConsumerGroupSession
}

type SaramaDriver struct {
	cfg Config
	log *slog.Logger

	newGroup func(Config) (sarama.ConsumerGroup, error)

	group      sarama.ConsumerGroup
	deliveries chan delivery
	failed     chan error
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

var _ source.Source = (*SaramaDriver)(nil)

func New(cfg Config) *SaramaDriver {
	applyDefaults(&cfg)
	return &SaramaDriver{
		cfg:      cfg,
		log:      logging.L().With("source", "kafka"),
		newGroup: newConsumerGroup,
	}
}

func newConsumerGroup(cfg Config) (sarama.ConsumerGroup, error) {
	sc, err := cfg.sarama()
	if err != nil {
		return nil, err
	}
	return sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
}

// Connect joins the consumer group and starts consuming in the background.
// A failure to reach the brokers is transient.
func (d *SaramaDriver) Connect(ctx context.Context) error {
	d.teardown()

	group, err := d.newGroup(d.cfg)
	if err != nil {
		var kerr sarama.KError
		if errors.Is(err, sarama.ErrOutOfBrokers) || errors.As(err, &kerr) {
			return pipeline.Transient(fmt.Errorf("kafka: join group: %w", err))
		}
		return fmt.Errorf("kafka: join group: %w", err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	d.group = group
	d.stop = stop
	d.deliveries = make(chan delivery)
	d.failed = make(chan error, 1)

	handler := &groupHandler{out: d.deliveries}
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for {
			if err := group.Consume(loopCtx, d.cfg.Topics, handler); err != nil {
				if !errors.Is(err, sarama.ErrClosedConsumerGroup) && loopCtx.Err() == nil {
					d.failed <- err
				}
				return
			}
			if loopCtx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for err := range group.Errors() {
			d.log.Warn("consumer error", "err", err)
		}
	}()

	d.log.Info("joined consumer group", "group", d.cfg.GroupID, "topics", d.cfg.Topics)
	return nil
}

// Next returns the next decodable event. Undecodable records are logged,
// marked and skipped so they do not block the partition.
func (d *SaramaDriver) Next(ctx context.Context) (marketdata.Event, error) {
	if d.deliveries == nil {
		return marketdata.Event{}, pipeline.Transient(errors.New("kafka: not connected"))
	}
	for {
		select {
		case <-ctx.Done():
			return marketdata.Event{}, ctx.Err()
		case err := <-d.failed:
			return marketdata.Event{}, pipeline.Transient(fmt.Errorf("kafka: consume: %w", err))
		case dl := <-d.deliveries:
			e, err := marketdata.Unmarshal(dl.msg.Value)
			dl.sess.MarkMessage(dl.msg, "")
			if err != nil {
				d.log.Warn("skipping undecodable record",
					"topic", dl.msg.Topic, "partition", dl.msg.Partition, "offset", dl.msg.Offset, "err", err)
				continue
			}
			return e, nil
		}
	}
}

func (d *SaramaDriver) teardown() {
	if d.group == nil {
		return
	}
	d.stop()
	if err := d.group.Close(); err != nil {
		d.log.Warn("close consumer group", "err", err)
	}
	d.wg.Wait()
	d.group = nil
	d.deliveries = nil
}

func (d *SaramaDriver) Close() error {
	d.teardown()
	return nil
}

type groupHandler struct {
	out chan<- delivery
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim hands records to Next one at a time; the unbuffered hand-off
// keeps consumption paced by the pipeline.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.out <- delivery{msg: msg, sess: sess}:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}
