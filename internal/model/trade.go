package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}

// Trade is a single print from the exchange trade stream. Immutable once built.
type Trade struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	TS    time.Time       `json:"ts"` // exchange timestamp, UTC
	Side  Side            `json:"side"`
}
