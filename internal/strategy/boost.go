package strategy

import (
	"time"

	"momentum-botv1/internal/markethours"
	"momentum-botv1/internal/model"
)

// maxWinRate keeps boosted rates strictly below certainty.
const maxWinRate = 0.99

// HourBoost adds a fixed offset to the win rate during a set of hours.
// The offset is a heuristic overlay, not derived from calibration data.
type HourBoost struct {
	Hours  markethours.Set
	Offset float64
}

// Active reports whether the boost applies at now.
func (b HourBoost) Active(now time.Time) bool {
	return b.Offset != 0 && b.Hours.Contains(now)
}

// Apply returns sig with the boost added to WinRate when active.
// Direction, rule and label are left unchanged.
func (b HourBoost) Apply(sig model.Signal, now time.Time) model.Signal {
	if !b.Active(now) {
		return sig
	}
	sig.WinRate += b.Offset
	if sig.WinRate > maxWinRate {
		sig.WinRate = maxWinRate
	}
	if sig.WinRate <= 0 {
		sig.WinRate = 0.01
	}
	return sig
}
