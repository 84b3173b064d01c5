package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func candle(min int, close string) model.Candle {
	c := decimal.RequireFromString(close)
	return model.Candle{
		TS:       base.Add(time.Duration(min) * time.Minute),
		Open:     c,
		High:     c.Add(decimal.NewFromInt(5)),
		Low:      c.Sub(decimal.NewFromInt(5)),
		Close:    c,
		Volume:   decimal.RequireFromString("1.5"),
		TakerBuy: decimal.RequireFromString("0.75"),
		Trades:   12,
		Closed:   true,
	}
}

func TestCandles_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	w, path := newWriter(t)

	require.NoError(t, w.WriteCandles(ctx, []model.Candle{
		candle(0, "64000.5"), candle(1, "64010"), candle(2, "64020.25"),
	}))
	// Rewriting bucket 1 replaces it.
	require.NoError(t, w.WriteCandles(ctx, []model.Candle{candle(1, "64015")}))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadCandles(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].TS.Equal(base))
	assert.Equal(t, "64015", got[1].Close.String())
	assert.Equal(t, "0.75", got[2].TakerBuy.String())
	assert.Equal(t, 12, got[2].Trades)
	assert.True(t, got[2].Closed)

	window, err := r.Candles(ctx, base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "sqlite", r.Name())

	last, err := r.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(base.Add(2*time.Minute)))
}

func TestWriter_RunFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	w, path := newWriter(t)

	ch := make(chan model.Candle, 10)
	for i := 0; i < 5; i++ {
		ch <- candle(i, "100")
	}
	open := candle(5, "100")
	open.Closed = false
	ch <- open
	close(ch)
	w.Run(ctx, ch)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadCandles(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 5, "open candles are not stored")
}

func TestJournal_OpenSettle(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)
	j := NewJournal(w.DB())

	p := model.Position{
		ID:         "p-1",
		Ticker:     "KXBTC15M-26MAR011215-15",
		Direction:  model.No,
		Signal:     "RSI=82>80+DIP_GOLD",
		RSI:        82,
		EntryPrice: decimal.RequireFromString("0.63"),
		Contracts:  10,
		OpenedAt:   base,
		CloseTime:  base.Add(15 * time.Minute),
	}
	require.NoError(t, j.RecordOpen(ctx, p))
	require.NoError(t, j.RecordOpen(ctx, p), "duplicate open is ignored")

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusOpened, entries[0].Status)
	assert.True(t, entries[0].PnL.IsZero())

	s := model.Settlement{
		Position:  p,
		Outcome:   model.No,
		Won:       true,
		Payout:    decimal.NewFromInt(10),
		Profit:    decimal.RequireFromString("3.7"),
		SettledAt: base.Add(17 * time.Minute),
	}
	require.NoError(t, j.RecordSettle(ctx, s))

	entries, err = j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, entries[0].Status)
	assert.Equal(t, "NO", entries[0].Outcome)
	assert.Equal(t, "3.7", entries[0].PnL.String())

	pnl, err := j.RealizedPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.7", pnl.String())

	s.Position.ID = "missing"
	assert.ErrorIs(t, j.RecordSettle(ctx, s), ErrUnknownTrade)
}
