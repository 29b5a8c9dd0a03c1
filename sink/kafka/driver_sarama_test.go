package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickflow/internal/marketdata"
	"tickflow/sink"
)

func batchOf(symbols ...string) sink.Batch {
	at := time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)
	var b sink.Batch
	for i, s := range symbols {
		b = append(b, marketdata.NewTradeEvent(marketdata.Trade{ID: uint64(i + 1), Symbol: s, Price: 10, Size: 1, Timestamp: at}))
	}
	return b
}

func TestWrite_PublishesKeyedBySymbol(t *testing.T) {
	p := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	d := &driver{cfg: Config{Topic: "ticks"}, p: p}
	batch := batchOf("AAPL", "MSFT")

	for _, want := range batch {
		p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
			if m.Topic != "ticks" {
				return errors.New("wrong topic " + m.Topic)
			}
			key, _ := m.Key.Encode()
			if string(key) != want.Symbol {
				return errors.New("wrong key " + string(key))
			}
			val, _ := m.Value.Encode()
			got, err := marketdata.Unmarshal(val)
			if err != nil {
				return err
			}
			if got.ID != want.ID {
				return errors.New("wrong event " + got.ID)
			}
			return nil
		})
	}

	require.NoError(t, d.Write(context.Background(), batch))
	require.NoError(t, d.Close())
}

func TestWrite_SurfacesProducerErrors(t *testing.T) {
	p := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	d := &driver{cfg: Config{Topic: "ticks"}, p: p}
	p.ExpectSendMessageAndSucceed()
	p.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	err := d.Write(context.Background(), batchOf("A", "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	require.NoError(t, d.Close())
}

func TestWrite_CancelledContext(t *testing.T) {
	d := &driver{cfg: Config{Topic: "ticks"}, p: mocks.NewSyncProducer(t, mocks.NewTestConfig())}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Write(ctx, batchOf("A")), context.Canceled)
}

func TestConfig_Idempotent(t *testing.T) {
	cfg := Config{Brokers: []string{"k:9092"}, Topic: "ticks", Acks: 1, Idempotent: true}
	applyDefaults(&cfg)
	sc, err := cfg.sarama()
	require.NoError(t, err)
	assert.True(t, sc.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("TICKFLOW_KAFKA_SINK__BROKERS", "k1:9092")
	t.Setenv("TICKFLOW_KAFKA_SINK__TOPIC", "ticks")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ticks", cfg.Topic)
	assert.Equal(t, int16(sarama.WaitForAll), cfg.Acks)
}
