// tickflow/sink/stdout/driver.go
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tickflow/internal/config"
	"tickflow/internal/jsoncodec"
	"tickflow/internal/marketdata"
	"tickflow/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS      int  `koanf:"delay_ms"`      // artificial per-batch delay
	PrintCounter bool `koanf:"print_counter"` // prepend seq#
	JSON         bool `koanf:"json"`          // full event instead of a summary line
}

func LoadConfig(path string) (Config, error) {
	var c Config
	err := config.LoadConnector(path, config.EnvPrefix("stdout"), &c)
	return c, err
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards out
	out io.Writer
	seq atomic.Uint64
}

var _ sink.Sink = (*driver)(nil)

func New(cfg Config, out io.Writer) sink.Sink {
	if out == nil {
		out = os.Stdout
	}
	return &driver{cfg: cfg, out: out}
}

/* ────────── sink.Sink ────────── */
func (d *driver) Name() string { return "stdout" }

func (d *driver) Init(context.Context) error { return nil }

func (d *driver) Write(ctx context.Context, batch sink.Batch) error {
	if d.cfg.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(d.cfg.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range batch {
		if d.cfg.PrintCounter {
			if _, err := fmt.Fprintf(d.out, "[sink %06d] ", d.seq.Add(1)); err != nil {
				return err
			}
		}
		if err := d.print(e); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── internals ────────── */

// must be called with d.mu *held*
func (d *driver) print(e marketdata.Event) error {
	if d.cfg.JSON {
		return jsoncodec.Encode(d.out, e)
	}
	var err error
	switch {
	case e.Bar != nil:
		b := e.Bar
		_, err = fmt.Fprintf(d.out, "%s bar   %-6s o=%.4f h=%.4f l=%.4f c=%.4f v=%.0f (%+.2f%%)\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume, b.PriceChangePercent())
	case e.Quote != nil:
		q := e.Quote
		_, err = fmt.Fprintf(d.out, "%s quote %-6s %.4f x %.0f / %.4f x %.0f (%.1fbps)\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Symbol, q.BidPrice, q.BidSize, q.AskPrice, q.AskSize, q.SpreadBps())
	case e.Trade != nil:
		t := e.Trade
		_, err = fmt.Fprintf(d.out, "%s trade %-6s %.0f @ %.4f id=%d\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Symbol, t.Size, t.Price, t.ID)
	case e.Market != nil:
		m := e.Market
		fav, _ := m.Favourite()
		_, err = fmt.Fprintf(d.out, "%s market %s %q lead=%s@%.2f vol=%.0f\n",
			e.Timestamp.UTC().Format(time.RFC3339), m.ConditionID, m.Question, fav.Name, fav.Price, m.Volume)
	}
	return err
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func(path string) (sink.Sink, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg, nil), nil
	})
}
