package strategy

import (
	"fmt"

	"momentum-botv1/internal/indicator"
	"momentum-botv1/internal/model"
)

// Rule is one predicate + outcome pair of the ordered rule list.
type Rule struct {
	ID         string          // calibration key
	Direction  model.Direction // direction traded when the rule matches
	Default    float64         // win rate used when calibration lacks samples
	MinSamples int             // observations required to trust a calibrated rate
	Match      func(f indicator.Features) bool
	Label      func(f indicator.Features) string
}

// Rule identifiers.
const (
	RuleRSI80       = "rsi_80"
	RuleRSI75       = "rsi_75_confirm"
	RuleRSI70       = "rsi_70_confirm"
	Rule15mDrop     = "15m_drop"
	DropThreshold   = -0.003
	overboughtLabel = "RSI=%.0f>%d+DIP"
)

// DefaultRules returns the rule list in priority order. The RSI rules overlap
// (RSI > 80 implies RSI > 75); order alone decides which one reports, so the
// strongest condition comes first.
func DefaultRules() []Rule {
	return []Rule{
		overbought(RuleRSI80, 80, 0.806, 20, "_GOLD"),
		overbought(RuleRSI75, 75, 0.777, 30, ""),
		overbought(RuleRSI70, 70, 0.719, 50, ""),
		{
			ID:         Rule15mDrop,
			Direction:  model.Yes,
			Default:    0.696,
			MinSamples: 20,
			Match: func(f indicator.Features) bool {
				return indicator.Value(f.Return15, 0) < DropThreshold
			},
			Label: func(f indicator.Features) string {
				return fmt.Sprintf("15m_drop=%.2f%%", indicator.Value(f.Return15, 0)*100)
			},
		},
	}
}

// overbought fades an extended RSI once the 5-minute return turns negative.
func overbought(id string, level float64, def float64, minSamples int, suffix string) Rule {
	return Rule{
		ID:         id,
		Direction:  model.No,
		Default:    def,
		MinSamples: minSamples,
		Match: func(f indicator.Features) bool {
			return f.RSI > level && indicator.Value(f.Return5, 0) < 0
		},
		Label: func(f indicator.Features) string {
			return fmt.Sprintf(overboughtLabel, f.RSI, int(level)) + suffix
		},
	}
}

// Find returns the rule with the given id.
func Find(rules []Rule, id string) (Rule, bool) {
	for _, r := range rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
