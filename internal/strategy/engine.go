// Package strategy turns feature rows into directional signals.
//
// Rules are evaluated in a fixed priority order and the first match wins.
// Win rates come from a calibration Table with per-rule defaults; an optional
// HourBoost raises the reported rate during favorable hours without touching
// the selected rule or direction.
package strategy

import (
	"momentum-botv1/internal/indicator"
	"momentum-botv1/internal/model"
)

// Table maps rule ids to calibrated win rates.
type Table map[string]float64

// Rate returns the calibrated rate for r, or r.Default when absent or out of (0,1).
func (t Table) Rate(r Rule) float64 {
	if v, ok := t[r.ID]; ok && v > 0 && v < 1 {
		return v
	}
	return r.Default
}

// Defaults returns a Table holding every rule's default rate.
func Defaults(rules []Rule) Table {
	t := make(Table, len(rules))
	for _, r := range rules {
		t[r.ID] = r.Default
	}
	return t
}

// Engine evaluates an ordered rule list.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over the given rules; DefaultRules when none are passed.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Rules returns the rule list in priority order.
func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate returns the signal of the first matching rule. Incomplete rows
// never produce a signal.
func (e *Engine) Evaluate(f indicator.Features, table Table) (model.Signal, bool) {
	if !f.Complete() {
		return model.Signal{}, false
	}
	for _, r := range e.rules {
		if !r.Match(f) {
			continue
		}
		return model.Signal{
			Direction: r.Direction,
			Rule:      r.ID,
			Name:      r.Label(f),
			WinRate:   table.Rate(r),
			RSI:       f.RSI,
			Return15m: indicator.Value(f.Return15, 0),
		}, true
	}
	return model.Signal{}, false
}
