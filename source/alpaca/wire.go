package alpaca

import (
	"encoding/json"
	"fmt"
	"time"

	"tickflow/internal/jsoncodec"
	"tickflow/internal/marketdata"
)

// Frame types, carried in the "T" field.
const (
	typeSuccess      = "success"
	typeError        = "error"
	typeSubscription = "subscription"
	typeBar          = "b"
	typeQuote        = "q"
	typeTrade        = "t"
)

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Bars   []string `json:"bars"`
	Quotes []string `json:"quotes"`
	Trades []string `json:"trades"`
}

type envelope struct {
	T    string `json:"T"`
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

type wireBar struct {
	Symbol     string   `json:"S"`
	Open       float64  `json:"o"`
	High       float64  `json:"h"`
	Low        float64  `json:"l"`
	Close      float64  `json:"c"`
	Volume     float64  `json:"v"`
	Timestamp  string   `json:"t"`
	TradeCount *uint64  `json:"n"`
	VWAP       *float64 `json:"vw"`
}

type wireQuote struct {
	Symbol      string   `json:"S"`
	BidExchange string   `json:"bx"`
	BidPrice    float64  `json:"bp"`
	BidSize     float64  `json:"bs"`
	AskExchange string   `json:"ax"`
	AskPrice    float64  `json:"ap"`
	AskSize     float64  `json:"as"`
	Conditions  []string `json:"c"`
	Tape        string   `json:"z"`
	Timestamp   string   `json:"t"`
}

type wireTrade struct {
	Symbol     string   `json:"S"`
	ID         uint64   `json:"i"`
	Exchange   string   `json:"x"`
	Price      float64  `json:"p"`
	Size       float64  `json:"s"`
	Conditions []string `json:"c"`
	Tape       string   `json:"z"`
	Timestamp  string   `json:"t"`
}

// frame is one decoded element of a websocket text message.
type frame struct {
	envelope
	event *marketdata.Event
}

// decodeFrames splits a text message (a JSON array) into frames. Elements of
// unknown type are skipped.
func decodeFrames(data []byte) ([]frame, error) {
	var raws []json.RawMessage
	if err := jsoncodec.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("alpaca: decode message: %w", err)
	}
	out := make([]frame, 0, len(raws))
	for _, raw := range raws {
		var f frame
		if err := jsoncodec.Unmarshal(raw, &f.envelope); err != nil {
			return nil, fmt.Errorf("alpaca: decode frame: %w", err)
		}
		switch f.T {
		case typeBar:
			var w wireBar
			if err := jsoncodec.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("alpaca: decode bar: %w", err)
			}
			ts, err := parseTime(w.Timestamp)
			if err != nil {
				return nil, err
			}
			e := marketdata.NewBarEvent(marketdata.Bar{
				Symbol: w.Symbol, Open: w.Open, High: w.High, Low: w.Low, Close: w.Close,
				Volume: w.Volume, Timestamp: ts, TradeCount: w.TradeCount, VWAP: w.VWAP,
			})
			f.event = &e
		case typeQuote:
			var w wireQuote
			if err := jsoncodec.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("alpaca: decode quote: %w", err)
			}
			ts, err := parseTime(w.Timestamp)
			if err != nil {
				return nil, err
			}
			e := marketdata.NewQuoteEvent(marketdata.Quote{
				Symbol: w.Symbol, BidExchange: w.BidExchange, BidPrice: w.BidPrice, BidSize: w.BidSize,
				AskExchange: w.AskExchange, AskPrice: w.AskPrice, AskSize: w.AskSize,
				Conditions: w.Conditions, Tape: w.Tape, Timestamp: ts,
			})
			f.event = &e
		case typeTrade:
			var w wireTrade
			if err := jsoncodec.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("alpaca: decode trade: %w", err)
			}
			ts, err := parseTime(w.Timestamp)
			if err != nil {
				return nil, err
			}
			e := marketdata.NewTradeEvent(marketdata.Trade{
				ID: w.ID, Symbol: w.Symbol, Exchange: w.Exchange, Price: w.Price, Size: w.Size,
				Conditions: w.Conditions, Tape: w.Tape, Timestamp: ts,
			})
			f.event = &e
		case typeSuccess, typeError, typeSubscription:
		default:
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("alpaca: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
