// Package synthetic is a generated market-data source for local runs, demos
// and load tests.
package synthetic

import (
	"context"
	"errors"
	"io"
	"time"

	"tickflow/internal/logging"
	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
	"tickflow/source"
)

var ErrFeedDropped = errors.New("synthetic: simulated feed drop")

func init() {
	source.Register("synthetic", func(path string) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

type Driver struct {
	cfg Config
	gen *Generator
	now func() time.Time

	connected bool
	emitted   int
	sinceDrop int
	ticker    *time.Ticker
}

var _ source.Source = (*Driver)(nil)

func New(cfg Config) (*Driver, error) {
	applyDefaults(&cfg)
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, gen: gen, now: time.Now}, nil
}

func (d *Driver) Connect(ctx context.Context) error {
	d.connected = true
	d.sinceDrop = 0
	if d.cfg.Interval > 0 && d.ticker == nil {
		d.ticker = time.NewTicker(d.cfg.Interval)
	}
	logging.L().Debug("synthetic source connected", "symbols", d.cfg.Symbols, "emitted", d.emitted)
	return nil
}

// Next returns io.EOF once Limit events were produced and a transient
// ErrFeedDropped every DisconnectEvery events. No event is skipped by a drop.
func (d *Driver) Next(ctx context.Context) (marketdata.Event, error) {
	if d.cfg.Limit > 0 && d.emitted >= d.cfg.Limit {
		return marketdata.Event{}, io.EOF
	}
	if !d.connected {
		return marketdata.Event{}, pipeline.Transient(errors.New("synthetic: not connected"))
	}
	if d.cfg.DisconnectEvery > 0 && d.sinceDrop >= d.cfg.DisconnectEvery {
		d.connected = false
		return marketdata.Event{}, pipeline.Transient(ErrFeedDropped)
	}
	if d.ticker != nil {
		select {
		case <-ctx.Done():
			return marketdata.Event{}, ctx.Err()
		case <-d.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return marketdata.Event{}, err
	}

	d.emitted++
	d.sinceDrop++
	return d.gen.Next(d.now()), nil
}

func (d *Driver) Close() error {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	d.connected = false
	return nil
}
