// Package polymarket lists active prediction markets from the Polymarket
// Gamma REST API.
//
// A sweep pages through /markets until a short page arrives. With a poll
// interval the sweep repeats, so every market is re-emitted with its latest
// prices and a sink keyed on condition id keeps the current state.
package polymarket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tickflow/internal/jsoncodec"
	"tickflow/internal/logging"
	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
	"tickflow/source"
)

func init() {
	source.Register("polymarket", func(path string) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}

// StatusError is a non-2xx response from the Gamma API. Rate limiting and
// server errors are returned wrapped as transient.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("polymarket: %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

type Driver struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	// sweep state survives Connect so a transient failure resumes at the
	// page that failed.
	offset    int
	endDate   string
	sweeping  bool
	nextSweep time.Time
	total     int
	pending   []marketdata.Event
}

var _ source.Source = (*Driver)(nil)

func New(cfg Config) *Driver {
	applyDefaults(&cfg)
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.L().With("source", "polymarket"),
		now:    time.Now,
	}
}

// Connect drops idle keep-alive connections. The API is stateless, so there
// is nothing to dial.
func (d *Driver) Connect(context.Context) error {
	d.client.CloseIdleConnections()
	d.log.Info("connected", "url", d.cfg.BaseURL, "page_size", d.cfg.PageSize)
	return nil
}

func (d *Driver) Next(ctx context.Context) (marketdata.Event, error) {
	for len(d.pending) == 0 {
		if !d.sweeping {
			if err := d.startSweep(ctx); err != nil {
				return marketdata.Event{}, err
			}
		} else if d.offset > 0 {
			if err := sleep(ctx, d.cfg.RequestDelay); err != nil {
				return marketdata.Event{}, err
			}
		}
		if err := d.fetchPage(ctx); err != nil {
			return marketdata.Event{}, err
		}
	}

	e := d.pending[0]
	d.pending = d.pending[1:]
	return e, nil
}

// startSweep waits for the poll interval to elapse and resets the offset.
// Without a poll interval only the first sweep runs.
func (d *Driver) startSweep(ctx context.Context) error {
	if !d.nextSweep.IsZero() {
		if d.cfg.PollInterval == 0 {
			return io.EOF
		}
		if err := sleep(ctx, d.nextSweep.Sub(d.now())); err != nil {
			return err
		}
	}
	d.endDate = d.cfg.EndDateMin
	if d.endDate == "" {
		d.endDate = d.now().UTC().Format(dateLayout)
	}
	d.offset, d.total, d.sweeping = 0, 0, true
	return nil
}

func (d *Driver) fetchPage(ctx context.Context) error {
	page, err := d.get(ctx, d.offset)
	if err != nil {
		return err
	}

	now := d.now().UTC()
	for _, g := range page {
		if g.ConditionID == "" {
			d.log.Debug("dropping market without condition id", "slug", g.Slug)
			continue
		}
		d.pending = append(d.pending, marketdata.NewMarketEvent(g.toMarket(now)))
	}
	d.total += len(page)
	d.log.Debug("page fetched", "offset", d.offset, "count", len(page))

	if len(page) < d.cfg.PageSize {
		d.log.Info("sweep complete", "markets", d.total, "end_date_min", d.endDate)
		d.sweeping = false
		d.nextSweep = d.now().Add(d.cfg.PollInterval)
		return nil
	}
	d.offset += d.cfg.PageSize
	return nil
}

func (d *Driver) get(ctx context.Context, offset int) ([]gammaMarket, error) {
	q := url.Values{}
	q.Set("closed", "false")
	q.Set("end_date_min", d.endDate)
	q.Set("limit", strconv.Itoa(d.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	u := d.cfg.BaseURL + "/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pipeline.Transient(fmt.Errorf("polymarket: request: %w", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Code: resp.StatusCode, URL: d.cfg.BaseURL + "/markets"}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, pipeline.Transient(err)
		}
		return nil, err
	}

	var page []gammaMarket
	if err := jsoncodec.Decode(resp.Body, &page); err != nil {
		return nil, pipeline.Transient(fmt.Errorf("polymarket: decode page at offset %d: %w", offset, err))
	}
	return page, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close drops idle connections and any listings not yet returned by Next.
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	d.pending = nil
	return nil
}
