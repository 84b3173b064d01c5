// Package portfolio holds position sizing, risk limits and session P&L.
package portfolio

// Sizer computes stakes with fractional Kelly.
type Sizer struct {
	Multiplier  float64 // scales the full Kelly fraction, e.g. 0.25
	MaxFraction float64 // cap on the scaled fraction of bankroll
	Ceiling     float64 // absolute cap on the stake
}

// DefaultSizer returns quarter Kelly capped at 10% of bankroll and 50 per trade.
func DefaultSizer() Sizer {
	return Sizer{Multiplier: 0.25, MaxFraction: 0.10, Ceiling: 50}
}

// Fraction returns the clamped share of bankroll to stake on a binary
// contract bought at price with win probability p.
func (s Sizer) Fraction(p, price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	b := (1 - price) / price
	q := 1 - p
	f := (p*b - q) / b * s.Multiplier
	if f < 0 {
		return 0
	}
	if f > s.MaxFraction {
		return s.MaxFraction
	}
	return f
}

// Size returns the stake in currency units. Zero means no trade.
func (s Sizer) Size(p, price, bankroll float64) float64 {
	if bankroll <= 0 {
		return 0
	}
	stake := bankroll * s.Fraction(p, price)
	if stake > s.Ceiling {
		stake = s.Ceiling
	}
	return stake
}
