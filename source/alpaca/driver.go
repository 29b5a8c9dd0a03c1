// Package alpaca streams bars, quotes and trades from the Alpaca market data
// websocket API.
//
// The feed does not replay messages missed while disconnected: events
// published between a drop and the next successful subscribe are lost.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"tickflow/internal/jsoncodec"
	"tickflow/internal/logging"
	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
	"tickflow/source"
)

func init() {
	source.Register("alpaca", func(path string) (source.Source, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}

// fatalCodes are server error codes that a reconnect cannot fix.
var fatalCodes = map[int]bool{
	401: true, // not authenticated
	402: true, // auth failed
	403: true, // already authenticated
	404: true, // auth timeout
	406: true, // connection limit exceeded
}

// ServerError is an error frame sent by Alpaca.
type ServerError struct {
	Code int
	Msg  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("alpaca: server error %d: %s", e.Code, e.Msg)
}

type Driver struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	conn    *websocket.Conn
	pending []marketdata.Event
}

var _ source.Source = (*Driver)(nil)

func New(cfg Config) *Driver {
	applyDefaults(&cfg)
	return &Driver{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:    logging.L().With("source", "alpaca"),
	}
}

// Connect dials, authenticates and subscribes. Any previous connection is
// released first. Network failures are transient; auth rejections are not.
func (d *Driver) Connect(ctx context.Context) error {
	d.closeConn()

	d.log.Info("connecting", "url", d.cfg.URL)
	conn, _, err := d.dialer.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("alpaca: dial: %w", err))
	}
	d.conn = conn

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.HandshakeTimeout))

	if err := d.await(ctx, typeSuccess, "connected"); err != nil {
		d.closeConn()
		return err
	}
	if err := d.send(authRequest{Action: "auth", Key: d.cfg.Key, Secret: d.cfg.Secret}); err != nil {
		d.closeConn()
		return err
	}
	if err := d.await(ctx, typeSuccess, "authenticated"); err != nil {
		d.closeConn()
		return err
	}
	sub := subscribeRequest{Action: "subscribe", Bars: d.cfg.Bars, Quotes: d.cfg.Quotes, Trades: d.cfg.Trades}
	if err := d.send(sub); err != nil {
		d.closeConn()
		return err
	}
	if err := d.await(ctx, typeSubscription, ""); err != nil {
		d.closeConn()
		return err
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	d.log.Info("subscribed", "bars", d.cfg.Bars, "quotes", d.cfg.Quotes, "trades", d.cfg.Trades)
	return nil
}

// await reads frames until one of type t (and msg, when set) arrives. Market
// data arriving early is queued.
func (d *Driver) await(ctx context.Context, t, msg string) error {
	for {
		frames, err := d.read(ctx)
		if err != nil {
			return err
		}
		for _, f := range frames {
			switch {
			case f.T == typeError:
				return serverError(f.Code, f.Msg)
			case f.event != nil:
				d.pending = append(d.pending, *f.event)
			case f.T == t && (msg == "" || f.Msg == msg):
				return nil
			}
		}
	}
}

func (d *Driver) Next(ctx context.Context) (marketdata.Event, error) {
	if d.conn == nil {
		return marketdata.Event{}, pipeline.Transient(errors.New("alpaca: not connected"))
	}

	conn := d.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for len(d.pending) == 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		if err := ctx.Err(); err != nil {
			return marketdata.Event{}, err
		}
		frames, err := d.read(ctx)
		if err != nil {
			return marketdata.Event{}, err
		}
		for _, f := range frames {
			switch {
			case f.T == typeError:
				return marketdata.Event{}, serverError(f.Code, f.Msg)
			case f.event != nil:
				d.pending = append(d.pending, *f.event)
			}
		}
	}

	e := d.pending[0]
	d.pending = d.pending[1:]
	return e, nil
}

// read returns the frames of the next text message. Undecodable messages are
// logged and skipped.
func (d *Driver) read(ctx context.Context) ([]frame, error) {
	for {
		mt, data, err := d.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.closeConn()
			return nil, pipeline.Transient(fmt.Errorf("alpaca: read: %w", err))
		}
		if mt != websocket.TextMessage {
			continue
		}
		frames, err := decodeFrames(data)
		if err != nil {
			d.log.Debug("dropping undecodable message", "err", err, "size", len(data))
			continue
		}
		return frames, nil
	}
}

func (d *Driver) send(v any) error {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return err
	}
	_ = d.conn.SetWriteDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return pipeline.Transient(fmt.Errorf("alpaca: write: %w", err))
	}
	return nil
}

func serverError(code int, msg string) error {
	err := &ServerError{Code: code, Msg: msg}
	if fatalCodes[code] {
		return err
	}
	return pipeline.Transient(err)
}

func (d *Driver) closeConn() {
	if d.conn == nil {
		return
	}
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = d.conn.Close()
	d.conn = nil
}

// Close releases the connection. Buffered events not yet returned by Next are
// dropped.
func (d *Driver) Close() error {
	d.closeConn()
	d.pending = nil
	return nil
}
