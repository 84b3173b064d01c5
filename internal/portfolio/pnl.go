package portfolio

import (
	"sync"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

// SessionStats is a point-in-time copy of the session counters.
type SessionStats struct {
	Started      time.Time        `json:"started"`
	SignalsSeen  int64            `json:"signals_seen"`
	SignalsTaken int64            `json:"signals_taken"`
	Skipped      map[string]int64 `json:"skipped"` // by gate reason
	Settled      int64            `json:"settled"`
	Wins         int64            `json:"wins"`
	Losses       int64            `json:"losses"`
	RealizedPnL  decimal.Decimal  `json:"realized_pnl"`
	BestTrade    decimal.Decimal  `json:"best_trade"`
	WorstTrade   decimal.Decimal  `json:"worst_trade"`
}

// WinRate returns wins / settled, or 0 before the first settlement.
func (s SessionStats) WinRate() float64 {
	if s.Settled == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Settled)
}

// PnLTracker accumulates per-session signal and settlement counters.
// Written by the decision loop, read by the status endpoint.
type PnLTracker struct {
	mu    sync.RWMutex
	stats SessionStats
}

// NewPnLTracker creates a tracker for a session starting at started.
func NewPnLTracker(started time.Time) *PnLTracker {
	return &PnLTracker{stats: SessionStats{
		Started: started,
		Skipped: make(map[string]int64),
	}}
}

// RecordSignal counts a signal that reached the execution gate.
func (p *PnLTracker) RecordSignal() {
	p.mu.Lock()
	p.stats.SignalsSeen++
	p.mu.Unlock()
}

// RecordTaken counts a signal that opened a position.
func (p *PnLTracker) RecordTaken() {
	p.mu.Lock()
	p.stats.SignalsTaken++
	p.mu.Unlock()
}

// RecordSkip counts a gate rejection by reason.
func (p *PnLTracker) RecordSkip(reason string) {
	p.mu.Lock()
	p.stats.Skipped[reason]++
	p.mu.Unlock()
}

// RecordSettlement updates realized P&L and win/loss counters.
func (p *PnLTracker) RecordSettlement(s model.Settlement) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := &p.stats
	if st.Settled == 0 || s.Profit.GreaterThan(st.BestTrade) {
		st.BestTrade = s.Profit
	}
	if st.Settled == 0 || s.Profit.LessThan(st.WorstTrade) {
		st.WorstTrade = s.Profit
	}
	st.Settled++
	if s.Won {
		st.Wins++
	} else {
		st.Losses++
	}
	st.RealizedPnL = st.RealizedPnL.Add(s.Profit)
}

// Snapshot returns a copy of the counters.
func (p *PnLTracker) Snapshot() SessionStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := p.stats
	out.Skipped = make(map[string]int64, len(p.stats.Skipped))
	for k, v := range p.stats.Skipped {
		out.Skipped[k] = v
	}
	return out
}
