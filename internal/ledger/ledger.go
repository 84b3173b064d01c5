// Package ledger owns the bankroll and the lifecycle of open positions.
//
// Every mutation is written through to a Store. A failed write never undoes
// the in-memory change: the ledger stays authoritative for the process and
// retries the write on the next mutation or Flush.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNoState           = errors.New("ledger: no persisted state")
	ErrCorruptState      = errors.New("ledger: persisted state unreadable")
	ErrInsufficientFunds = errors.New("ledger: insufficient bankroll")
	ErrDuplicate         = errors.New("ledger: position already open for market")
)

// State is the persisted form of the ledger.
type State struct {
	Balance   decimal.Decimal  `json:"balance"`
	Positions []model.Position `json:"positions"`
	Wins      int64            `json:"wins"`
	Losses    int64            `json:"losses"`
}

// Store persists State.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// TradeLog receives an append-only record of opens and settlements.
type TradeLog interface {
	RecordOpen(ctx context.Context, p model.Position) error
	RecordSettle(ctx context.Context, s model.Settlement) error
}

// Resolver reports a market's final outcome. ok is false until the market
// is finalized.
type Resolver interface {
	Result(ctx context.Context, ticker string) (outcome model.Direction, ok bool, err error)
}

// Config holds ledger parameters.
type Config struct {
	StartingBankroll decimal.Decimal
	Grace            time.Duration // wait after scheduled close before polling the outcome
}

// Ledger is mutated by the decision loop only. The RWMutex lets status
// readers take consistent snapshots.
type Ledger struct {
	mu     sync.RWMutex
	cfg    Config
	state  State
	store  Store
	trades TradeLog
	dirty  bool

	// Hooks (optional, set externally)
	OnOpen         func(model.Position)
	OnSettle       func(model.Settlement)
	OnPersistError func(error)
}

// New creates a ledger holding the starting bankroll. Call Load to resume
// persisted state. tradeLog may be nil.
func New(cfg Config, store Store, tradeLog TradeLog) *Ledger {
	return &Ledger{
		cfg:    cfg,
		state:  State{Balance: cfg.StartingBankroll},
		store:  store,
		trades: tradeLog,
	}
}

// Load restores persisted state. A missing or unreadable record leaves the
// starting bankroll in place. Settled positions left over from a previous
// run are dropped.
func (l *Ledger) Load() error {
	st, err := l.store.Load()
	switch {
	case errors.Is(err, ErrNoState):
		slog.Info("no saved state, starting fresh", "balance", l.cfg.StartingBankroll.StringFixed(2))
		return nil
	case errors.Is(err, ErrCorruptState):
		slog.Warn("saved state unreadable, starting fresh", "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("ledger load: %w", err)
	}

	open := st.Positions[:0]
	for _, p := range st.Positions {
		if !p.Settled {
			open = append(open, p)
		}
	}
	st.Positions = open

	l.mu.Lock()
	l.state = st
	l.mu.Unlock()
	slog.Info("state loaded",
		"balance", st.Balance.StringFixed(2),
		"positions", len(st.Positions),
		"wins", st.Wins, "losses", st.Losses)
	return nil
}

// Balance returns the available bankroll.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Balance
}

// OpenCount returns the number of unsettled positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.state.Positions {
		if !p.Settled {
			n++
		}
	}
	return n
}

// HasPosition reports whether any position exists for ticker.
func (l *Ledger) HasPosition(ticker string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.state.Positions {
		if p.Ticker == ticker {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.state
	st.Positions = append([]model.Position(nil), l.state.Positions...)
	return st
}

// Open debits the cost of p, records it and persists.
func (l *Ledger) Open(ctx context.Context, p model.Position) error {
	cost := p.Cost()

	l.mu.Lock()
	for _, q := range l.state.Positions {
		if q.Ticker == p.Ticker {
			l.mu.Unlock()
			return ErrDuplicate
		}
	}
	if p.Contracts < 1 || cost.GreaterThan(l.state.Balance) {
		l.mu.Unlock()
		return ErrInsufficientFunds
	}
	l.state.Balance = l.state.Balance.Sub(cost)
	l.state.Positions = append(l.state.Positions, p)
	balance := l.state.Balance
	l.mu.Unlock()

	l.persist()

	slog.Info("position opened",
		"id", p.ID, "ticker", p.Ticker, "direction", p.Direction, "signal", p.Signal,
		"contracts", p.Contracts, "price", p.EntryPrice.StringFixed(2),
		"cost", cost.StringFixed(2), "balance", balance.StringFixed(2))

	if l.trades != nil {
		if err := l.trades.RecordOpen(ctx, p); err != nil {
			slog.Warn("trade log open failed", "id", p.ID, "error", err)
		}
	}
	if l.OnOpen != nil {
		l.OnOpen(p)
	}
	return nil
}

// Due returns unsettled positions whose close time plus grace is before now.
func (l *Ledger) Due(now time.Time) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, p := range l.state.Positions {
		if !p.Settled && now.After(p.CloseTime.Add(l.cfg.Grace)) {
			out = append(out, p)
		}
	}
	return out
}

// Settle polls the resolver for every due position and applies available
// outcomes. Query failures and unresolved markets leave positions open.
func (l *Ledger) Settle(ctx context.Context, now time.Time, r Resolver) []model.Settlement {
	var done []model.Settlement
	for _, p := range l.Due(now) {
		outcome, ok, err := r.Result(ctx, p.Ticker)
		if err != nil {
			slog.Debug("settlement query failed", "ticker", p.Ticker, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if s, applied := l.Apply(ctx, p.ID, outcome, now); applied {
			done = append(done, s)
		}
	}
	if len(done) == 0 {
		l.Flush()
	}
	return done
}

// Apply settles the position with the given id against outcome. It returns
// false, mutating nothing, when the position is unknown or already settled.
func (l *Ledger) Apply(ctx context.Context, id string, outcome model.Direction, now time.Time) (model.Settlement, bool) {
	l.mu.Lock()
	idx := -1
	for i, p := range l.state.Positions {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || l.state.Positions[idx].Settled {
		l.mu.Unlock()
		return model.Settlement{}, false
	}

	pos := &l.state.Positions[idx]
	pos.Settled = true
	s := model.Settlement{
		Position:  *pos,
		Outcome:   outcome,
		Won:       outcome == pos.Direction,
		Payout:    decimal.Zero,
		SettledAt: now,
	}
	if s.Won {
		s.Payout = decimal.NewFromInt(pos.Contracts)
		l.state.Balance = l.state.Balance.Add(s.Payout)
		l.state.Wins++
	} else {
		l.state.Losses++
	}
	s.Profit = s.Payout.Sub(pos.Cost())
	balance := l.state.Balance
	l.mu.Unlock()

	l.persist()

	slog.Info("position settled",
		"id", id, "ticker", s.Position.Ticker, "direction", s.Position.Direction,
		"outcome", outcome, "won", s.Won, "pnl", s.Profit.StringFixed(2),
		"balance", balance.StringFixed(2))

	if l.trades != nil {
		if err := l.trades.RecordSettle(ctx, s); err != nil {
			slog.Warn("trade log settle failed", "id", id, "error", err)
		}
	}
	if l.OnSettle != nil {
		l.OnSettle(s)
	}
	return s, true
}

// Flush retries a persistence write that failed earlier. No-op when clean.
func (l *Ledger) Flush() {
	l.mu.RLock()
	dirty := l.dirty
	l.mu.RUnlock()
	if dirty {
		l.persist()
	}
}

// persist writes the unsettled state. Settled positions leave the working
// set only after a successful write.
func (l *Ledger) persist() {
	l.mu.RLock()
	st := State{
		Balance: l.state.Balance,
		Wins:    l.state.Wins,
		Losses:  l.state.Losses,
	}
	for _, p := range l.state.Positions {
		if !p.Settled {
			st.Positions = append(st.Positions, p)
		}
	}
	l.mu.RUnlock()

	err := l.store.Save(st)

	if err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		slog.Error("state save failed, will retry", "error", err)
		if l.OnPersistError != nil {
			l.OnPersistError(err)
		}
		return
	}

	l.mu.Lock()
	l.dirty = false
	kept := l.state.Positions[:0]
	for _, p := range l.state.Positions {
		if !p.Settled {
			kept = append(kept, p)
		}
	}
	l.state.Positions = kept
	l.mu.Unlock()
}
