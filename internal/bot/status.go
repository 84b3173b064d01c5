package bot

import (
	"context"
	"time"

	"momentum-botv1/internal/execution"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/portfolio"
	"momentum-botv1/internal/strategy"

	"github.com/shopspring/decimal"
)

// Status is the /status payload.
type Status struct {
	Time          time.Time           `json:"time"`
	FeedConnected bool                `json:"feed_connected"`
	FeedStaleness string              `json:"feed_staleness"`
	History       int                 `json:"history"`
	Candle        *model.Candle       `json:"candle,omitempty"`
	Features      map[string]float64  `json:"features,omitempty"`
	Signal        *model.Signal       `json:"signal,omitempty"`
	Decision      *execution.Decision `json:"decision,omitempty"`

	Bankroll  decimal.Decimal        `json:"bankroll"`
	Positions []model.Position       `json:"positions"`
	Wins      int64                  `json:"wins"`
	Losses    int64                  `json:"losses"`
	Session   portfolio.SessionStats `json:"session"`

	Calibration    strategy.Table `json:"calibration"`
	FavorableHour  bool           `json:"favorable_hour"`
	NextHourChange *time.Time     `json:"next_hour_change,omitempty"`
	LastOpen       *time.Time     `json:"last_open,omitempty"`
	MarketsListed  int            `json:"markets_listed"`
	MarketsScanned *time.Time     `json:"markets_scanned,omitempty"`
}

// Status returns a snapshot of the loop. Safe to call from any goroutine.
func (b *Bot) Status(ctx context.Context) any {
	now := b.now()

	b.mu.RLock()
	v := b.seen
	b.mu.RUnlock()

	st := b.d.Ledger.Snapshot()
	out := Status{
		Time:          now.UTC(),
		FeedConnected: b.d.Feed.Connected(),
		FeedStaleness: b.d.Feed.Staleness(now).Round(time.Millisecond).String(),
		History:       v.history,
		Features:      v.features,
		Signal:        v.signal,
		Decision:      v.decision,
		Bankroll:      st.Balance,
		Positions:     st.Positions,
		Wins:          st.Wins,
		Losses:        st.Losses,
		Session:       b.d.Tracker.Snapshot(),
		Calibration:   b.d.Calibration.Table(),
		FavorableHour: b.d.Boost.Active(now),
	}
	if out.Positions == nil {
		out.Positions = []model.Position{}
	}
	if !v.at.IsZero() {
		c := v.candle
		out.Candle = &c
	}
	if t := b.d.Boost.Hours.NextChange(now); !t.IsZero() {
		out.NextHourChange = &t
	}
	if t := b.d.Gate.LastOpen(); !t.IsZero() {
		out.LastOpen = &t
	}
	n, scanned := b.d.Gate.Listed()
	out.MarketsListed = n
	if !scanned.IsZero() {
		out.MarketsScanned = &scanned
	}
	return out
}
