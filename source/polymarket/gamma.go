package polymarket

import (
	"bytes"
	"strconv"
	"time"

	"tickflow/internal/jsoncodec"
	"tickflow/internal/marketdata"
)

// gammaMarket is one entry of the Gamma /markets listing.
type gammaMarket struct {
	ConditionID     string     `json:"conditionId"`
	QuestionID      string     `json:"questionID"`
	Slug            string     `json:"slug"`
	Question        string     `json:"question"`
	Description     string     `json:"description"`
	Active          bool       `json:"active"`
	Closed          bool       `json:"closed"`
	Archived        bool       `json:"archived"`
	AcceptingOrders bool       `json:"acceptingOrders"`
	EnableOrderBook bool       `json:"enableOrderBook"`
	NegRisk         bool       `json:"negRisk"`
	EndDate         string     `json:"endDate"`
	OrderMinSize    flexFloat  `json:"orderMinSize"`
	TickSize        flexFloat  `json:"orderPriceMinTickSize"`
	Volume          flexFloat  `json:"volumeNum"`
	Liquidity       flexFloat  `json:"liquidityNum"`
	Outcomes        stringList `json:"outcomes"`
	OutcomePrices   stringList `json:"outcomePrices"`
	TokenIDs        stringList `json:"clobTokenIds"`
}

// flexFloat accepts both 0.5 and "0.5". Empty strings and null decode to 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// stringList accepts a JSON array of strings or a string holding one, which
// is how Gamma ships outcomes and prices.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := jsoncodec.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*l = nil
			return nil
		}
		data = []byte(inner)
	}
	var out []string
	if err := jsoncodec.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// toMarket converts a listing observed at now. Prices that do not parse are
// left at zero.
func (g gammaMarket) toMarket(now time.Time) marketdata.Market {
	m := marketdata.Market{
		ConditionID:      g.ConditionID,
		QuestionID:       g.QuestionID,
		Slug:             g.Slug,
		Question:         g.Question,
		Description:      g.Description,
		Active:           g.Active,
		Closed:           g.Closed,
		Archived:         g.Archived,
		AcceptingOrders:  g.AcceptingOrders,
		EnableOrderBook:  g.EnableOrderBook,
		NegRisk:          g.NegRisk,
		MinimumOrderSize: float64(g.OrderMinSize),
		MinimumTickSize:  float64(g.TickSize),
		Volume:           float64(g.Volume),
		Liquidity:        float64(g.Liquidity),
		UpdatedAt:        now,
	}
	if end, err := time.Parse(time.RFC3339, g.EndDate); err == nil {
		end = end.UTC()
		m.EndDate = &end
	}
	for i, name := range g.Outcomes {
		o := marketdata.Outcome{Name: name}
		if i < len(g.OutcomePrices) {
			o.Price, _ = strconv.ParseFloat(g.OutcomePrices[i], 64)
		}
		if i < len(g.TokenIDs) {
			o.TokenID = g.TokenIDs[i]
		}
		m.Outcomes = append(m.Outcomes, o)
	}
	return m
}
