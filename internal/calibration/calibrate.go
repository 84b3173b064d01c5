// Package calibration estimates per-rule win rates from historical candles.
package calibration

import (
	"time"

	"momentum-botv1/internal/indicator"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/strategy"
)

// Bounds applied to a calibrated rate so it stays a usable probability.
const (
	minRate = 0.01
	maxRate = 0.99
)

// Result is one calibration pass.
type Result struct {
	Table      strategy.Table  `json:"table"`
	Samples    map[string]int  `json:"samples"`
	Calibrated map[string]bool `json:"calibrated"` // false when the default was used
	Rows       int             `json:"rows"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Source     string          `json:"source"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Calibrate scores each rule's predicate independently over complete rows
// that have a close horizon candles ahead. A NO signal wins when that close
// is at or below the row's close, a YES signal when it is above.
func Calibrate(cs []model.Candle, rules []strategy.Rule, horizon int) Result {
	res := Result{
		Table:      make(strategy.Table, len(rules)),
		Samples:    make(map[string]int, len(rules)),
		Calibrated: make(map[string]bool, len(rules)),
	}
	if len(cs) > 0 {
		res.From, res.To = cs[0].TS, cs[len(cs)-1].TS
	}

	rows := indicator.Batch(cs)
	hits := make(map[string]int, len(rules))
	for i := 0; i+horizon < len(rows); i++ {
		f := rows[i]
		if !f.Complete() {
			continue
		}
		res.Rows++
		future := rows[i+horizon].Close
		for _, r := range rules {
			if !r.Match(f) {
				continue
			}
			res.Samples[r.ID]++
			if won(r.Direction, f.Close, future) {
				hits[r.ID]++
			}
		}
	}

	for _, r := range rules {
		n := res.Samples[r.ID]
		if n < r.MinSamples || n == 0 {
			res.Table[r.ID] = r.Default
			continue
		}
		res.Table[r.ID] = clamp(float64(hits[r.ID]) / float64(n))
		res.Calibrated[r.ID] = true
	}
	return res
}

func won(d model.Direction, close, future float64) bool {
	if d == model.Yes {
		return future > close
	}
	return future <= close
}

func clamp(p float64) float64 {
	if p < minRate {
		return minRate
	}
	if p > maxRate {
		return maxRate
	}
	return p
}
