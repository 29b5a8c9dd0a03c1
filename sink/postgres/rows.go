package postgres

import (
	"time"

	"tickflow/internal/jsoncodec"
	"tickflow/internal/marketdata"
)

// BarRow is unique on (symbol, timestamp).
type BarRow struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"size:10;not null;uniqueIndex:idx_bars_symbol_ts"`
	Open       float64   `gorm:"not null"`
	High       float64   `gorm:"not null"`
	Low        float64   `gorm:"not null"`
	Close      float64   `gorm:"not null"`
	Volume     float64   `gorm:"not null"`
	Timestamp  time.Time `gorm:"not null;uniqueIndex:idx_bars_symbol_ts"`
	TradeCount *int64
	VWAP       *float64  `gorm:"column:vwap"`
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}

func (BarRow) TableName() string { return "bars" }

// QuoteRow is unique on the originating event id; quotes have no natural key.
type QuoteRow struct {
	ID          uint      `gorm:"primaryKey"`
	EventID     string    `gorm:"size:26;not null;uniqueIndex"`
	Symbol      string    `gorm:"size:10;not null;index"`
	BidExchange string    `gorm:"size:10"`
	BidPrice    float64   `gorm:"not null"`
	BidSize     float64   `gorm:"not null"`
	AskExchange string    `gorm:"size:10"`
	AskPrice    float64   `gorm:"not null"`
	AskSize     float64   `gorm:"not null"`
	Timestamp   time.Time `gorm:"not null"`
	Tape        string    `gorm:"size:5"`
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
}

func (QuoteRow) TableName() string { return "quotes" }

// TradeRow is unique on (trade_id, symbol).
type TradeRow struct {
	ID         uint      `gorm:"primaryKey"`
	TradeID    int64     `gorm:"not null;uniqueIndex:idx_trades_id_symbol"`
	Symbol     string    `gorm:"size:10;not null;uniqueIndex:idx_trades_id_symbol"`
	Exchange   string    `gorm:"size:10"`
	Price      float64   `gorm:"not null"`
	Size       float64   `gorm:"not null"`
	Timestamp  time.Time `gorm:"not null"`
	Tape       string    `gorm:"size:5"`
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}

func (TradeRow) TableName() string { return "trades" }

// MarketRow is unique on condition_id and always holds the latest listing.
type MarketRow struct {
	ID               uint   `gorm:"primaryKey"`
	ConditionID      string `gorm:"size:66;not null;uniqueIndex"`
	QuestionID       string `gorm:"size:66"`
	MarketSlug       string `gorm:"index"`
	Question         string
	Description      string
	Active           bool `gorm:"not null"`
	Closed           bool `gorm:"not null"`
	Archived         bool `gorm:"not null"`
	AcceptingOrders  bool `gorm:"not null"`
	EnableOrderBook  bool `gorm:"not null"`
	NegRisk          bool `gorm:"not null"`
	EndDate          *time.Time
	MinimumOrderSize float64
	MinimumTickSize  float64
	Volume           float64
	Liquidity        float64
	Tokens           string    `gorm:"type:jsonb"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (MarketRow) TableName() string { return "polymarket_markets" }

type rowSet struct {
	bars    []BarRow
	quotes  []QuoteRow
	trades  []TradeRow
	markets []MarketRow
}

func splitBatch(batch []marketdata.Event) (rowSet, error) {
	var rs rowSet
	for _, e := range batch {
		switch {
		case e.Bar != nil:
			b := e.Bar
			row := BarRow{
				Symbol:    b.Symbol,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				Timestamp: b.Timestamp.UTC(),
				VWAP:      b.VWAP,
			}
			if b.TradeCount != nil {
				n := int64(*b.TradeCount)
				row.TradeCount = &n
			}
			rs.bars = append(rs.bars, row)
		case e.Quote != nil:
			q := e.Quote
			rs.quotes = append(rs.quotes, QuoteRow{
				EventID:     e.ID,
				Symbol:      q.Symbol,
				BidExchange: q.BidExchange,
				BidPrice:    q.BidPrice,
				BidSize:     q.BidSize,
				AskExchange: q.AskExchange,
				AskPrice:    q.AskPrice,
				AskSize:     q.AskSize,
				Timestamp:   q.Timestamp.UTC(),
				Tape:        q.Tape,
			})
		case e.Trade != nil:
			tr := e.Trade
			rs.trades = append(rs.trades, TradeRow{
				TradeID:   int64(tr.ID),
				Symbol:    tr.Symbol,
				Exchange:  tr.Exchange,
				Price:     tr.Price,
				Size:      tr.Size,
				Timestamp: tr.Timestamp.UTC(),
				Tape:      tr.Tape,
			})
		case e.Market != nil:
			row, err := marketRow(e.Market)
			if err != nil {
				return rs, err
			}
			rs.markets = dedupeMarket(rs.markets, row)
		}
	}
	return rs, nil
}

func marketRow(m *marketdata.Market) (MarketRow, error) {
	outcomes := m.Outcomes
	if outcomes == nil {
		outcomes = []marketdata.Outcome{}
	}
	tokens, err := jsoncodec.Marshal(outcomes)
	if err != nil {
		return MarketRow{}, err
	}
	row := MarketRow{
		ConditionID:      m.ConditionID,
		QuestionID:       m.QuestionID,
		MarketSlug:       m.Slug,
		Question:         m.Question,
		Description:      m.Description,
		Active:           m.Active,
		Closed:           m.Closed,
		Archived:         m.Archived,
		AcceptingOrders:  m.AcceptingOrders,
		EnableOrderBook:  m.EnableOrderBook,
		NegRisk:          m.NegRisk,
		MinimumOrderSize: m.MinimumOrderSize,
		MinimumTickSize:  m.MinimumTickSize,
		Volume:           m.Volume,
		Liquidity:        m.Liquidity,
		Tokens:           string(tokens),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	if m.EndDate != nil {
		end := m.EndDate.UTC()
		row.EndDate = &end
	}
	return row, nil
}

// dedupeMarket keeps the last listing per condition id. Postgres rejects an
// upsert that touches the same row twice in one statement.
func dedupeMarket(rows []MarketRow, row MarketRow) []MarketRow {
	for i := range rows {
		if rows[i].ConditionID == row.ConditionID {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}
