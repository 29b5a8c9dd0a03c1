package synthetic

import (
	"fmt"
	"math"
	"time"

	"tickflow/internal/marketdata"
)

// Generator creates deterministic market events, cycling through every
// symbol for each configured kind.
type Generator struct {
	symbols   []string
	kinds     []marketdata.Kind
	basePrice float64
	spread    float64
	size      float64
	index     int
	seq       uint64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("synthetic: no symbols")
	}
	kinds := make([]marketdata.Kind, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		switch marketdata.Kind(k) {
		case marketdata.KindBar, marketdata.KindQuote, marketdata.KindTrade:
			kinds = append(kinds, marketdata.Kind(k))
		default:
			return nil, fmt.Errorf("synthetic: unknown kind %q", k)
		}
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("synthetic: no kinds")
	}
	return &Generator{
		symbols:   cfg.Symbols,
		kinds:     kinds,
		basePrice: cfg.BasePrice,
		spread:    cfg.Spread,
		size:      cfg.Size,
	}, nil
}

// Next creates the next event in sequence.
func (g *Generator) Next(now time.Time) marketdata.Event {
	n := len(g.symbols)
	symbol := g.symbols[g.index%n]
	kind := g.kinds[(g.index/n)%len(g.kinds)]
	g.index = (g.index + 1) % (n * len(g.kinds))
	g.seq++

	// Saw-tooth around the base price, in cents.
	price := round2(g.basePrice + float64(g.seq%100)/100)
	now = now.UTC()

	switch kind {
	case marketdata.KindBar:
		count := g.seq
		vwap := price
		return marketdata.NewBarEvent(marketdata.Bar{
			Symbol:     symbol,
			Open:       price,
			High:       round2(price + g.spread),
			Low:        round2(price - g.spread),
			Close:      round2(price + g.spread/2),
			Volume:     g.size,
			Timestamp:  now,
			TradeCount: &count,
			VWAP:       &vwap,
		})
	case marketdata.KindQuote:
		return marketdata.NewQuoteEvent(marketdata.Quote{
			Symbol:    symbol,
			BidPrice:  round2(price - g.spread/2),
			BidSize:   g.size,
			AskPrice:  round2(price + g.spread/2),
			AskSize:   g.size,
			Timestamp: now,
		})
	default:
		return marketdata.NewTradeEvent(marketdata.Trade{
			ID:        g.seq,
			Symbol:    symbol,
			Price:     price,
			Size:      g.size,
			Timestamp: now,
		})
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
