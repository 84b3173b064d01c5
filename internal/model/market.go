package model

import (
	"strings"
	"time"
)

// Direction is the side of a binary contract.
type Direction string

const (
	Yes Direction = "YES"
	No  Direction = "NO"
)

// ParseDirection maps a settlement result ("yes", "NO", ...) to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return Yes, true
	case "NO":
		return No, true
	}
	return "", false
}

// Opposite returns the other side of the contract.
func (d Direction) Opposite() Direction {
	if d == Yes {
		return No
	}
	return Yes
}

// Market is a listed binary market in the target series.
type Market struct {
	Ticker    string    `json:"ticker"`
	CloseTime time.Time `json:"close_time"`
}

// TimeToClose returns the time remaining until the market closes.
func (m Market) TimeToClose(now time.Time) time.Duration {
	return m.CloseTime.Sub(now)
}

// Level is one resting bid: price in cents (1..99) and quantity.
type Level struct {
	Price int64
	Qty   int64
}

// OrderBook holds resting bids per side, ascending by price.
type OrderBook struct {
	Yes []Level
	No  []Level
}

// BestBid returns the highest bid on the given side. The book lists levels
// ascending, so the best is the last element.
func (ob OrderBook) BestBid(side Direction) (Level, bool) {
	levels := ob.Yes
	if side == No {
		levels = ob.No
	}
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[len(levels)-1], true
}
