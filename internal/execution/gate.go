// Package execution turns signals into paper positions. The Gate applies,
// in order: cooldown, concurrency cap, market selection, duplicate check,
// price discovery, expected value and sizing. Every rejection is a typed
// Reason, never an error.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"momentum-botv1/internal/ledger"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reason explains why a signal was not taken.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonCooldown             Reason = "cooldown"
	ReasonMaxPositions         Reason = "max_positions"
	ReasonNoMarket             Reason = "no_market"
	ReasonDuplicate            Reason = "duplicate"
	ReasonUnavailable          Reason = "unavailable"
	ReasonNoLiquidity          Reason = "no_liquidity"
	ReasonBadPrice             Reason = "bad_price"
	ReasonLowEV                Reason = "low_ev"
	ReasonSmallStake           Reason = "small_stake"
	ReasonInsufficientBankroll Reason = "insufficient_bankroll"
)

// Markets is the exchange surface the gate needs; *kalshi.Client implements it.
type Markets interface {
	ListMarkets(ctx context.Context, series string) ([]model.Market, error)
	OrderBook(ctx context.Context, ticker string) (model.OrderBook, error)
}

// Book is the ledger surface the gate needs; *ledger.Ledger implements it.
type Book interface {
	Balance() decimal.Decimal
	OpenCount() int
	HasPosition(ticker string) bool
	Open(ctx context.Context, p model.Position) error
}

// Config configures the gate.
type Config struct {
	Series         string        // ticker prefix, e.g. "KXBTC15M"
	MinTimeToClose time.Duration // exclusive lower bound
	MaxTimeToClose time.Duration // exclusive upper bound
	Limits         portfolio.RiskLimits
	Sizer          portfolio.Sizer
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Taken    bool            `json:"taken"`
	Reason   Reason          `json:"reason,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Market   model.Market    `json:"market"`
	Price    decimal.Decimal `json:"price"`
	EV       float64         `json:"ev"`
	Stake    float64         `json:"stake"`
	Position model.Position  `json:"position"`
}

func reject(r Reason, detail string) Decision {
	return Decision{Reason: r, Detail: detail}
}

// Gate is driven by the decision loop. The market list is refreshed on the
// scan cadence with Scan; order books are fetched per signal.
type Gate struct {
	cfg     Config
	markets Markets
	book    Book

	mu       sync.Mutex
	listed   []model.Market
	scanned  time.Time
	lastOpen time.Time

	newID func() string
}

// NewGate creates a Gate.
func NewGate(cfg Config, markets Markets, book Book) *Gate {
	if cfg.MinTimeToClose <= 0 {
		cfg.MinTimeToClose = 120 * time.Second
	}
	if cfg.MaxTimeToClose <= 0 {
		cfg.MaxTimeToClose = 880 * time.Second
	}
	return &Gate{cfg: cfg, markets: markets, book: book, newID: uuid.NewString}
}

// RestoreCooldown seeds the cooldown timer, e.g. from the newest persisted position.
func (g *Gate) RestoreCooldown(lastOpen time.Time) {
	g.mu.Lock()
	if lastOpen.After(g.lastOpen) {
		g.lastOpen = lastOpen
	}
	g.mu.Unlock()
}

// LastOpen returns when the gate last opened a position.
func (g *Gate) LastOpen() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastOpen
}

// Scan refreshes the cached market list. On error the previous list is kept.
func (g *Gate) Scan(ctx context.Context) error {
	ms, err := g.markets.ListMarkets(ctx, g.cfg.Series)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.listed = ms
	g.scanned = time.Now()
	g.mu.Unlock()
	return nil
}

// Listed returns the cached market count and when it was scanned.
func (g *Gate) Listed() (int, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.listed), g.scanned
}

// Select returns the listed market in the series with the smallest
// time-to-close strictly inside the acceptance window.
func (g *Gate) Select(now time.Time) (model.Market, bool) {
	g.mu.Lock()
	listed := g.listed
	g.mu.Unlock()

	var (
		best  model.Market
		bestT time.Duration
		found bool
	)
	for _, m := range listed {
		if !strings.HasPrefix(m.Ticker, g.cfg.Series) {
			continue
		}
		ttc := m.TimeToClose(now)
		if ttc <= g.cfg.MinTimeToClose || ttc >= g.cfg.MaxTimeToClose {
			continue
		}
		if !found || ttc < bestT {
			best, bestT, found = m, ttc, true
		}
	}
	if !found {
		g.logClosest(listed, now)
	}
	return best, found
}

// logClosest reports the nearest upcoming market within an hour.
func (g *Gate) logClosest(listed []model.Market, now time.Time) {
	var (
		closest model.Market
		ttc     time.Duration
	)
	for _, m := range listed {
		t := m.TimeToClose(now)
		if t <= 0 || t > time.Hour || !strings.HasPrefix(m.Ticker, g.cfg.Series) {
			continue
		}
		if closest.Ticker == "" || t < ttc {
			closest, ttc = m, t
		}
	}
	if closest.Ticker == "" {
		slog.Debug("no market closing within 1h", "listed", len(listed))
		return
	}
	slog.Debug("no market in window",
		"closest", closest.Ticker,
		"time_to_close", ttc.Round(time.Second).String(),
		"window_min", g.cfg.MinTimeToClose.String(),
		"window_max", g.cfg.MaxTimeToClose.String())
}

// Price derives the executable ask for dir from the best bid on the
// opposite side: (100 - bid)/100 + slippage.
func Price(ob model.OrderBook, dir model.Direction, slippage decimal.Decimal) (decimal.Decimal, bool) {
	bid, ok := ob.BestBid(dir.Opposite())
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(100 - bid.Price).Div(decimal.NewFromInt(100)).Add(slippage), true
}

// Evaluate runs sig through every gate and opens a position when all pass.
func (g *Gate) Evaluate(ctx context.Context, sig model.Signal, now time.Time) Decision {
	lim := g.cfg.Limits

	if last := g.LastOpen(); !last.IsZero() && now.Sub(last) < lim.Cooldown {
		return reject(ReasonCooldown, (lim.Cooldown - now.Sub(last)).Round(time.Second).String()+" left")
	}
	if g.book.OpenCount() >= lim.MaxOpenPositions {
		return reject(ReasonMaxPositions, "")
	}

	market, ok := g.Select(now)
	if !ok {
		return reject(ReasonNoMarket, "")
	}
	if g.book.HasPosition(market.Ticker) {
		d := reject(ReasonDuplicate, market.Ticker)
		d.Market = market
		return d
	}

	ob, err := g.markets.OrderBook(ctx, market.Ticker)
	if err != nil {
		d := reject(ReasonUnavailable, err.Error())
		d.Market = market
		return d
	}
	price, ok := Price(ob, sig.Direction, lim.Slippage)
	if !ok {
		d := reject(ReasonNoLiquidity, market.Ticker)
		d.Market = market
		return d
	}

	d := Decision{Market: market, Price: price}
	if !lim.InBand(price) {
		d.Reason, d.Detail = ReasonBadPrice, price.StringFixed(2)
		return d
	}

	p := price.InexactFloat64()
	d.EV = portfolio.ExpectedValue(sig.WinRate, p)
	if d.EV < lim.MinEV {
		d.Reason = ReasonLowEV
		return d
	}

	balance := g.book.Balance()
	d.Stake = g.cfg.Sizer.Size(sig.WinRate, p, balance.InexactFloat64())
	if d.Stake < lim.MinStake {
		d.Reason = ReasonSmallStake
		return d
	}

	contracts := int64(math.Floor(d.Stake / p))
	cost := price.Mul(decimal.NewFromInt(contracts))
	if contracts < 1 || cost.GreaterThan(balance) {
		d.Reason = ReasonInsufficientBankroll
		return d
	}

	pos := model.Position{
		ID:         g.newID(),
		Ticker:     market.Ticker,
		Direction:  sig.Direction,
		Signal:     sig.Name,
		RSI:        sig.RSI,
		Return15m:  sig.Return15m,
		EntryPrice: price,
		Contracts:  contracts,
		OpenedAt:   now,
		CloseTime:  market.CloseTime,
	}
	switch err := g.book.Open(ctx, pos); {
	case errors.Is(err, ledger.ErrDuplicate):
		d.Reason = ReasonDuplicate
		return d
	case errors.Is(err, ledger.ErrInsufficientFunds):
		d.Reason = ReasonInsufficientBankroll
		return d
	case err != nil:
		d.Reason, d.Detail = ReasonUnavailable, err.Error()
		return d
	}

	g.mu.Lock()
	g.lastOpen = now
	g.mu.Unlock()

	d.Taken = true
	d.Position = pos
	return d
}
