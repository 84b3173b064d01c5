package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open paper position in a binary market.
type Position struct {
	ID         string          `json:"id"`
	Ticker     string          `json:"ticker"`
	Direction  Direction       `json:"direction"`
	Signal     string          `json:"signal"`
	RSI        float64         `json:"rsi"`
	Return15m  float64         `json:"return_15m"`
	EntryPrice decimal.Decimal `json:"price"` // dollars per contract, in (0,1)
	Contracts  int64           `json:"contracts"`
	OpenedAt   time.Time       `json:"entry_time"`
	CloseTime  time.Time       `json:"close_time"`
	Settled    bool            `json:"settled"`
}

// Cost returns the cost basis: contracts x entry price.
func (p *Position) Cost() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(p.Contracts))
}

// Settlement is the resolved result of a position.
type Settlement struct {
	Position  Position        `json:"position"`
	Outcome   Direction       `json:"outcome"`
	Won       bool            `json:"won"`
	Payout    decimal.Decimal `json:"payout"`
	Profit    decimal.Decimal `json:"pnl"`
	SettledAt time.Time       `json:"settled_at"`
}
