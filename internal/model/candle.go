package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a fixed-interval OHLCV summary of trades.
// TakerBuy is the quantity of trades whose aggressor was a buyer.
type Candle struct {
	TS       time.Time       `json:"ts"` // bucket start (UTC, interval-aligned)
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	TakerBuy decimal.Decimal `json:"taker_buy"`
	Trades   int             `json:"trades"`
	Closed   bool            `json:"closed"`
}

// Valid reports whether the candle satisfies
// low <= min(open, close) <= max(open, close) <= high and
// volume >= taker_buy >= 0.
func (c *Candle) Valid() bool {
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(lo) || hi.GreaterThan(c.High) {
		return false
	}
	return !c.TakerBuy.IsNegative() && c.Volume.GreaterThanOrEqual(c.TakerBuy)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
