package s3

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tickflow/internal/marketdata"
)

// row is the flat parquet layout shared by all event kinds. Columns that do
// not apply to a kind stay zero.
type row struct {
	ID        string    `parquet:"id"`
	Kind      string    `parquet:"kind,dict"`
	Symbol    string    `parquet:"symbol,dict"`
	Timestamp time.Time `parquet:"timestamp"`

	Open       float64  `parquet:"open"`
	High       float64  `parquet:"high"`
	Low        float64  `parquet:"low"`
	Close      float64  `parquet:"close"`
	Volume     float64  `parquet:"volume"`
	TradeCount *int64   `parquet:"trade_count,optional"`
	VWAP       *float64 `parquet:"vwap,optional"`

	BidExchange string  `parquet:"bid_exchange,dict"`
	BidPrice    float64 `parquet:"bid_price"`
	BidSize     float64 `parquet:"bid_size"`
	AskExchange string  `parquet:"ask_exchange,dict"`
	AskPrice    float64 `parquet:"ask_price"`
	AskSize     float64 `parquet:"ask_size"`

	TradeID  int64   `parquet:"trade_id"`
	Exchange string  `parquet:"exchange,dict"`
	Price    float64 `parquet:"price"`
	Size     float64 `parquet:"size"`
	Tape     string  `parquet:"tape,dict"`

	Question        string  `parquet:"question"`
	MarketSlug      string  `parquet:"market_slug"`
	Active          bool    `parquet:"active"`
	Closed          bool    `parquet:"closed"`
	Liquidity       float64 `parquet:"liquidity"`
	Outcomes        string  `parquet:"outcomes"`
	AcceptingOrders bool    `parquet:"accepting_orders"`
}

func toRow(e marketdata.Event) row {
	r := row{ID: e.ID, Kind: e.Kind(), Symbol: e.Symbol, Timestamp: e.Timestamp.UTC()}
	switch {
	case e.Bar != nil:
		b := e.Bar
		r.Open, r.High, r.Low, r.Close, r.Volume = b.Open, b.High, b.Low, b.Close, b.Volume
		r.VWAP = b.VWAP
		if b.TradeCount != nil {
			n := int64(*b.TradeCount)
			r.TradeCount = &n
		}
	case e.Quote != nil:
		q := e.Quote
		r.BidExchange, r.BidPrice, r.BidSize = q.BidExchange, q.BidPrice, q.BidSize
		r.AskExchange, r.AskPrice, r.AskSize = q.AskExchange, q.AskPrice, q.AskSize
		r.Tape = q.Tape
	case e.Trade != nil:
		t := e.Trade
		r.TradeID, r.Exchange, r.Price, r.Size, r.Tape = int64(t.ID), t.Exchange, t.Price, t.Size, t.Tape
	case e.Market != nil:
		m := e.Market
		r.Question, r.MarketSlug, r.Active, r.Closed = m.Question, m.Slug, m.Active, m.Closed
		r.Volume, r.Liquidity, r.AcceptingOrders = m.Volume, m.Liquidity, m.AcceptingOrders
		r.Outcomes = outcomes(m.Outcomes)
	}
	return r
}

// outcomes renders "Yes=0.3100,No=0.6900".
func outcomes(list []marketdata.Outcome) string {
	parts := make([]string, len(list))
	for i, o := range list {
		parts[i] = fmt.Sprintf("%s=%.4f", o.Name, o.Price)
	}
	return strings.Join(parts, ",")
}

func encode(batch []marketdata.Event, compression string) ([]byte, error) {
	var opts []parquet.WriterOption
	switch compression {
	case "":
	case "snappy":
		opts = append(opts, parquet.Compression(&parquet.Snappy))
	case "gzip":
		opts = append(opts, parquet.Compression(&parquet.Gzip))
	case "zstd":
		opts = append(opts, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", compression)
	}

	rows := make([]row, len(batch))
	for i, e := range batch {
		rows[i] = toRow(e)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[row](&buf, opts...)
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
