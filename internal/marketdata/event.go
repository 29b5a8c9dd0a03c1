// Package marketdata defines the market events carried through tickflow
// pipelines: bars, quotes, trades and prediction market listings wrapped in
// a single Event envelope.
package marketdata

import (
	"errors"
	"fmt"
	"time"

	"tickflow/internal/ids"
)

// Kind discriminates the payload of an Event.
type Kind string

const (
	KindBar    Kind = "bar"
	KindQuote  Kind = "quote"
	KindTrade  Kind = "trade"
	KindMarket Kind = "market"
)

var ErrInvalidEvent = errors.New("marketdata: invalid event")

// Event is the pipeline message for market data. Exactly one of Bar, Quote,
// Trade or Market is set, matching Type.
type Event struct {
	ID        string    `json:"id"`
	Type      Kind      `json:"kind"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Bar    *Bar    `json:"bar,omitempty"`
	Quote  *Quote  `json:"quote,omitempty"`
	Trade  *Trade  `json:"trade,omitempty"`
	Market *Market `json:"market,omitempty"`
}

func (e Event) Kind() string    { return string(e.Type) }
func (e Event) Time() time.Time { return e.Timestamp }

func NewBarEvent(b Bar) Event {
	return Event{ID: ids.NewAt(b.Timestamp), Type: KindBar, Symbol: b.Symbol, Timestamp: b.Timestamp, Bar: &b}
}

func NewQuoteEvent(q Quote) Event {
	return Event{ID: ids.NewAt(q.Timestamp), Type: KindQuote, Symbol: q.Symbol, Timestamp: q.Timestamp, Quote: &q}
}

func NewTradeEvent(tr Trade) Event {
	return Event{ID: ids.NewAt(tr.Timestamp), Type: KindTrade, Symbol: tr.Symbol, Timestamp: tr.Timestamp, Trade: &tr}
}

// NewMarketEvent keys the event by condition id and stamps it with the time
// the listing was observed.
func NewMarketEvent(m Market) Event {
	return Event{ID: ids.NewAt(m.UpdatedAt), Type: KindMarket, Symbol: m.ConditionID, Timestamp: m.UpdatedAt, Market: &m}
}

// Validate checks that the envelope is consistent with its payload.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	set := 0
	for _, ok := range []bool{e.Bar != nil, e.Quote != nil, e.Trade != nil, e.Market != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrInvalidEvent, set)
	}
	switch {
	case e.Type == KindBar && e.Bar != nil:
	case e.Type == KindQuote && e.Quote != nil:
	case e.Type == KindTrade && e.Trade != nil:
	case e.Type == KindMarket && e.Market != nil:
	default:
		return fmt.Errorf("%w: kind %q does not match payload", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Bar is an OHLCV aggregate for one symbol and interval.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
	TradeCount *uint64   `json:"trade_count,omitempty"`
	VWAP       *float64  `json:"vwap,omitempty"`
}

func (b Bar) PriceChange() float64 { return b.Close - b.Open }

// PriceChangePercent is zero when Open is zero.
func (b Bar) PriceChangePercent() float64 {
	if b.Open == 0 {
		return 0
	}
	return b.PriceChange() / b.Open * 100
}

// Quote is a top-of-book update.
type Quote struct {
	Symbol      string    `json:"symbol"`
	BidExchange string    `json:"bid_exchange,omitempty"`
	BidPrice    float64   `json:"bid_price"`
	BidSize     float64   `json:"bid_size"`
	AskExchange string    `json:"ask_exchange,omitempty"`
	AskPrice    float64   `json:"ask_price"`
	AskSize     float64   `json:"ask_size"`
	Conditions  []string  `json:"conditions,omitempty"`
	Tape        string    `json:"tape,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (q Quote) Spread() float64 { return q.AskPrice - q.BidPrice }

// SpreadBps is the spread in basis points of the bid. Zero when BidPrice is
// zero.
func (q Quote) SpreadBps() float64 {
	if q.BidPrice == 0 {
		return 0
	}
	return q.Spread() / q.BidPrice * 10000
}

// Trade is a single execution.
type Trade struct {
	ID         uint64    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange,omitempty"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Conditions []string  `json:"conditions,omitempty"`
	Tape       string    `json:"tape,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (t Trade) Notional() float64 { return t.Price * t.Size }

// Market is a prediction market listing as published by polymarket.
type Market struct {
	ConditionID      string     `json:"condition_id"`
	QuestionID       string     `json:"question_id,omitempty"`
	Slug             string     `json:"market_slug,omitempty"`
	Question         string     `json:"question,omitempty"`
	Description      string     `json:"description,omitempty"`
	Active           bool       `json:"active"`
	Closed           bool       `json:"closed"`
	Archived         bool       `json:"archived"`
	AcceptingOrders  bool       `json:"accepting_orders"`
	EnableOrderBook  bool       `json:"enable_order_book"`
	NegRisk          bool       `json:"neg_risk"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	MinimumOrderSize float64    `json:"minimum_order_size"`
	MinimumTickSize  float64    `json:"minimum_tick_size"`
	Volume           float64    `json:"volume"`
	Liquidity        float64    `json:"liquidity"`
	Outcomes         []Outcome  `json:"outcomes,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Outcome is one tradable side of a Market.
type Outcome struct {
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	TokenID string  `json:"token_id,omitempty"`
}

// Favourite returns the outcome with the highest price. ok is false when the
// market has no outcomes.
func (m Market) Favourite() (o Outcome, ok bool) {
	for i, c := range m.Outcomes {
		if i == 0 || c.Price > o.Price {
			o = c
		}
	}
	return o, len(m.Outcomes) > 0
}
