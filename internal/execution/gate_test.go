package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"momentum-botv1/internal/ledger"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/portfolio"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeMarkets struct {
	markets   []model.Market
	books     map[string]model.OrderBook
	listErr   error
	bookErr   error
	bookCalls int
}

func (f *fakeMarkets) ListMarkets(ctx context.Context, series string) ([]model.Market, error) {
	return f.markets, f.listErr
}

func (f *fakeMarkets) OrderBook(ctx context.Context, ticker string) (model.OrderBook, error) {
	f.bookCalls++
	if f.bookErr != nil {
		return model.OrderBook{}, f.bookErr
	}
	return f.books[ticker], nil
}

func market(ticker string, ttc time.Duration) model.Market {
	return model.Market{Ticker: ticker, CloseTime: t0.Add(ttc)}
}

// noBid returns a book whose best NO bid makes a YES ask of 1 - bid/100 + 0.03.
func noBid(cents int64) model.OrderBook {
	return model.OrderBook{
		Yes: []model.Level{{Price: 40, Qty: 10}},
		No:  []model.Level{{Price: 1, Qty: 5}, {Price: cents, Qty: 10}},
	}
}

func yesSignal(p float64) model.Signal {
	return model.Signal{Direction: model.Yes, Rule: "rsi_80", Name: "RSI=82>80", WinRate: p, RSI: 82, Return15m: 0.001}
}

func newTestGate(t *testing.T, fm *fakeMarkets, bankroll string) (*Gate, *ledger.Ledger) {
	t.Helper()
	store := ledger.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	l := ledger.New(ledger.Config{StartingBankroll: decimal.RequireFromString(bankroll)}, store, nil)
	g := NewGate(Config{
		Series: "KXBTC15M",
		Limits: portfolio.DefaultRiskLimits(),
		Sizer:  portfolio.DefaultSizer(),
	}, fm, l)
	require.NoError(t, g.Scan(context.Background()))
	return g, l
}

func TestEvaluate_Opens(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		books:   map[string]model.OrderBook{"KXBTC15M-A": noBid(43)},
	}
	g, l := newTestGate(t, fm, "1000")

	d := g.Evaluate(context.Background(), yesSignal(0.70), t0)
	require.True(t, d.Taken, "reason=%s", d.Reason)
	assert.Equal(t, "0.6", d.Price.String())
	assert.InDelta(t, 0.10, d.EV, 1e-9)
	assert.InDelta(t, 50, d.Stake, 1e-9)
	assert.Equal(t, int64(83), d.Position.Contracts)
	assert.NotEmpty(t, d.Position.ID)
	assert.Equal(t, "950.2", l.Balance().String())
	assert.True(t, l.HasPosition("KXBTC15M-A"))
	assert.Equal(t, t0, g.LastOpen())
}

func TestEvaluate_LowEV(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		books:   map[string]model.OrderBook{"KXBTC15M-A": noBid(18)},
	}
	g, l := newTestGate(t, fm, "1000")

	d := g.Evaluate(context.Background(), yesSignal(0.70), t0)
	assert.False(t, d.Taken)
	assert.Equal(t, ReasonLowEV, d.Reason)
	assert.Equal(t, "0.85", d.Price.String())
	assert.Zero(t, l.OpenCount())
}

func TestEvaluate_Cooldown(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{
			market("KXBTC15M-A", 5*time.Minute),
			market("KXBTC15M-B", 10*time.Minute),
		},
		books: map[string]model.OrderBook{"KXBTC15M-A": noBid(43), "KXBTC15M-B": noBid(43)},
	}
	g, l := newTestGate(t, fm, "1000")

	require.True(t, g.Evaluate(context.Background(), yesSignal(0.70), t0).Taken)
	d := g.Evaluate(context.Background(), yesSignal(0.70), t0.Add(time.Minute))
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, 1, l.OpenCount())
}

func TestEvaluate_RestoredCooldown(t *testing.T) {
	fm := &fakeMarkets{markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)}}
	g, _ := newTestGate(t, fm, "1000")
	g.RestoreCooldown(t0.Add(-time.Minute))

	assert.Equal(t, ReasonCooldown, g.Evaluate(context.Background(), yesSignal(0.70), t0).Reason)
	assert.Zero(t, fm.bookCalls)
}

func TestEvaluate_MaxPositions(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{
			market("KXBTC15M-A", 5*time.Minute),
			market("KXBTC15M-B", 6*time.Minute),
			market("KXBTC15M-C", 7*time.Minute),
			market("KXBTC15M-D", 8*time.Minute),
		},
		books: map[string]model.OrderBook{
			"KXBTC15M-A": noBid(43), "KXBTC15M-B": noBid(43),
			"KXBTC15M-C": noBid(43), "KXBTC15M-D": noBid(43),
		},
	}
	g, l := newTestGate(t, fm, "1000")
	g.cfg.Limits.Cooldown = 0

	for i, tk := range []string{"KXBTC15M-B", "KXBTC15M-C", "KXBTC15M-D"} {
		require.NoError(t, l.Open(context.Background(), model.Position{
			ID: tk, Ticker: tk, Direction: model.Yes,
			EntryPrice: decimal.RequireFromString("0.5"), Contracts: 10,
			OpenedAt: t0.Add(time.Duration(i) * time.Second), CloseTime: t0.Add(time.Hour),
		}))
	}
	d := g.Evaluate(context.Background(), yesSignal(0.70), t0)
	assert.Equal(t, ReasonMaxPositions, d.Reason)
}

func TestSelect_Window(t *testing.T) {
	fm := &fakeMarkets{markets: []model.Market{
		market("KXBTC15M-SOON", 60*time.Second),
		market("KXBTC15M-EDGE", 120*time.Second),
		market("KXBTC15M-LATE", 10*time.Minute),
		market("KXBTC15M-PICK", 5*time.Minute),
		market("KXBTC15M-FAR", 880*time.Second),
		market("KXETH15M-X", 3*time.Minute),
	}}
	g, _ := newTestGate(t, fm, "1000")

	m, ok := g.Select(t0)
	require.True(t, ok)
	assert.Equal(t, "KXBTC15M-PICK", m.Ticker)

	_, ok = g.Select(t0.Add(time.Hour))
	assert.False(t, ok)
}

func TestEvaluate_NoMarket(t *testing.T) {
	fm := &fakeMarkets{markets: []model.Market{market("KXBTC15M-A", 30*time.Second)}}
	g, _ := newTestGate(t, fm, "1000")
	assert.Equal(t, ReasonNoMarket, g.Evaluate(context.Background(), yesSignal(0.70), t0).Reason)
}

func TestScan_KeepsPreviousListOnError(t *testing.T) {
	fm := &fakeMarkets{markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)}}
	g, _ := newTestGate(t, fm, "1000")

	fm.listErr = errors.New("boom")
	assert.Error(t, g.Scan(context.Background()))
	n, _ := g.Listed()
	assert.Equal(t, 1, n)
}

func TestEvaluate_Duplicate(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		books:   map[string]model.OrderBook{"KXBTC15M-A": noBid(43)},
	}
	g, _ := newTestGate(t, fm, "1000")
	g.cfg.Limits.Cooldown = 0

	require.True(t, g.Evaluate(context.Background(), yesSignal(0.70), t0).Taken)
	d := g.Evaluate(context.Background(), yesSignal(0.70), t0.Add(time.Second))
	assert.Equal(t, ReasonDuplicate, d.Reason)
	assert.Equal(t, 1, fm.bookCalls)
}

func TestEvaluate_NoLiquidity(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		books:   map[string]model.OrderBook{"KXBTC15M-A": {Yes: []model.Level{{Price: 40, Qty: 1}}}},
	}
	g, _ := newTestGate(t, fm, "1000")
	assert.Equal(t, ReasonNoLiquidity, g.Evaluate(context.Background(), yesSignal(0.70), t0).Reason)

	// A NO signal prices off the YES bids and is unaffected.
	sig := yesSignal(0.70)
	sig.Direction = model.No
	d := g.Evaluate(context.Background(), sig, t0)
	require.True(t, d.Taken, "reason=%s", d.Reason)
	assert.Equal(t, "0.63", d.Price.String())
}

func TestEvaluate_Unavailable(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		bookErr: errors.New("timeout"),
	}
	g, _ := newTestGate(t, fm, "1000")
	assert.Equal(t, ReasonUnavailable, g.Evaluate(context.Background(), yesSignal(0.70), t0).Reason)
}

func TestEvaluate_PriceBand(t *testing.T) {
	tests := []struct {
		bid  int64
		want Reason
	}{
		{95, ReasonBadPrice}, // 0.08
		{93, ReasonBadPrice}, // 0.10 exactly
		{5, ReasonBadPrice},  // 0.98
		{13, ReasonBadPrice}, // 0.90 exactly
	}
	for _, tt := range tests {
		fm := &fakeMarkets{
			markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
			books:   map[string]model.OrderBook{"KXBTC15M-A": noBid(tt.bid)},
		}
		g, _ := newTestGate(t, fm, "1000")
		d := g.Evaluate(context.Background(), yesSignal(0.70), t0)
		assert.Equal(t, tt.want, d.Reason, "bid=%d price=%s", tt.bid, d.Price)
	}
}

func TestEvaluate_SmallStake(t *testing.T) {
	fm := &fakeMarkets{
		markets: []model.Market{market("KXBTC15M-A", 5*time.Minute)},
		books:   map[string]model.OrderBook{"KXBTC15M-A": noBid(43)},
	}
	g, l := newTestGate(t, fm, "50")

	d := g.Evaluate(context.Background(), yesSignal(0.70), t0)
	assert.Equal(t, ReasonSmallStake, d.Reason)
	assert.InDelta(t, 3.125, d.Stake, 1e-9)
	assert.Equal(t, "50", l.Balance().String())
}

func TestPrice(t *testing.T) {
	slip := decimal.RequireFromString("0.03")
	p, ok := Price(noBid(43), model.Yes, slip)
	require.True(t, ok)
	assert.Equal(t, "0.6", p.String())

	_, ok = Price(model.OrderBook{}, model.No, slip)
	assert.False(t, ok)
}
