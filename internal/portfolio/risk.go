package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits defines the execution gate thresholds.
type RiskLimits struct {
	Cooldown         time.Duration   `json:"cooldown"`           // min time between opened positions
	MaxOpenPositions int             `json:"max_open_positions"` // max number of unsettled positions
	Slippage         decimal.Decimal `json:"slippage"`           // added to the derived price
	PriceFloor       decimal.Decimal `json:"price_floor"`        // prices at or below are rejected
	PriceCeiling     decimal.Decimal `json:"price_ceiling"`      // prices at or above are rejected
	MinEV            float64         `json:"min_ev"`             // minimum expected value per contract
	MinStake         float64         `json:"min_stake"`          // smallest stake worth placing
}

// DefaultRiskLimits returns the production limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		Cooldown:         5 * time.Minute,
		MaxOpenPositions: 3,
		Slippage:         decimal.RequireFromString("0.03"),
		PriceFloor:       decimal.RequireFromString("0.10"),
		PriceCeiling:     decimal.RequireFromString("0.90"),
		MinEV:            0.02,
		MinStake:         5,
	}
}

// InBand reports whether price lies strictly inside (PriceFloor, PriceCeiling).
func (l RiskLimits) InBand(price decimal.Decimal) bool {
	return price.GreaterThan(l.PriceFloor) && price.LessThan(l.PriceCeiling)
}

// ExpectedValue is the expected profit per contract bought at price when the
// contract pays 1 with probability p.
func ExpectedValue(p, price float64) float64 {
	return p*(1-price) - (1-p)*price
}
