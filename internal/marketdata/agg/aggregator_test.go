package agg

import (
	"context"
	"sync"
	"testing"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

func trade(price, qty string, ts time.Time, side model.Side) model.Trade {
	return model.Trade{
		Price: decimal.RequireFromString(price),
		Qty:   decimal.RequireFromString(qty),
		TS:    ts,
		Side:  side,
	}
}

func assertDec(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: got %s, want %s", label, got, want)
	}
}

func TestAggregator_ThreeBuckets(t *testing.T) {
	a := New(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	trades := []model.Trade{
		trade("100", "1", base.Add(5*time.Second), model.SideBuy),
		trade("105", "2", base.Add(20*time.Second), model.SideSell),
		trade("98", "0.5", base.Add(59*time.Second), model.SideBuy),

		trade("99", "1", base.Add(61*time.Second), model.SideSell),
		trade("101", "3", base.Add(90*time.Second), model.SideBuy),

		trade("102", "4", base.Add(125*time.Second), model.SideBuy),
		trade("97", "1", base.Add(170*time.Second), model.SideSell),

		// opens a fourth bucket, closing the third
		trade("100", "1", base.Add(181*time.Second), model.SideBuy),
	}

	var closed []model.Candle
	for _, tr := range trades {
		if c, ok := a.Ingest(tr); ok {
			closed = append(closed, c)
		}
	}

	if len(closed) != 3 {
		t.Fatalf("expected 3 closed candles, got %d", len(closed))
	}

	c := closed[0]
	if !c.TS.Equal(base) {
		t.Errorf("candle 0 ts: got %v, want %v", c.TS, base)
	}
	assertDec(t, "c0 open", c.Open, "100")
	assertDec(t, "c0 high", c.High, "105")
	assertDec(t, "c0 low", c.Low, "98")
	assertDec(t, "c0 close", c.Close, "98")
	assertDec(t, "c0 volume", c.Volume, "3.5")
	assertDec(t, "c0 taker", c.TakerBuy, "1.5")
	if c.Trades != 3 {
		t.Errorf("c0 trades: got %d, want 3", c.Trades)
	}

	c = closed[1]
	assertDec(t, "c1 open", c.Open, "99")
	assertDec(t, "c1 high", c.High, "101")
	assertDec(t, "c1 low", c.Low, "99")
	assertDec(t, "c1 close", c.Close, "101")
	assertDec(t, "c1 volume", c.Volume, "4")
	assertDec(t, "c1 taker", c.TakerBuy, "3")

	c = closed[2]
	assertDec(t, "c2 high", c.High, "102")
	assertDec(t, "c2 low", c.Low, "97")
	assertDec(t, "c2 volume", c.Volume, "5")
	assertDec(t, "c2 taker", c.TakerBuy, "4")

	for i, c := range closed {
		if !c.Closed {
			t.Errorf("candle %d: expected Closed=true", i)
		}
		if !c.Valid() {
			t.Errorf("candle %d violates OHLCV invariant: %+v", i, c)
		}
	}

	cur, ok := a.Current()
	if !ok || cur.Closed || !cur.TS.Equal(base.Add(3*time.Minute)) {
		t.Errorf("unexpected current candle: %+v ok=%v", cur, ok)
	}
}

func TestAggregator_LateTradeDropped(t *testing.T) {
	a := New(time.Minute)
	dropped := 0
	a.OnDroppedTrade = func() { dropped++ }

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.Ingest(trade("100", "1", base, model.SideBuy))
	a.Ingest(trade("101", "1", base.Add(time.Minute), model.SideBuy))

	// belongs to the already closed first bucket
	if _, ok := a.Ingest(trade("50", "10", base.Add(30*time.Second), model.SideSell)); ok {
		t.Fatal("late trade must not close a candle")
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped trade, got %d", dropped)
	}

	cur, _ := a.Current()
	assertDec(t, "low unchanged", cur.Low, "101")
	assertDec(t, "volume unchanged", cur.Volume, "1")
}

func TestAggregator_DuplicateSameBucketAccumulates(t *testing.T) {
	a := New(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := trade("100", "1", base.Add(10*time.Second), model.SideBuy)
	a.Ingest(tr)
	a.Ingest(tr)

	cur, _ := a.Current()
	assertDec(t, "volume", cur.Volume, "2")
	if cur.Trades != 2 {
		t.Errorf("expected 2 trades, got %d", cur.Trades)
	}
}

func TestAggregator_RunEmitsClosed(t *testing.T) {
	a := New(time.Minute)
	tradeCh := make(chan model.Trade, 10)
	candleCh := make(chan model.Candle, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tradeCh, candleCh)
		close(done)
	}()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tradeCh <- trade("100", "1", base, model.SideBuy)
	tradeCh <- trade("110", "2", base.Add(time.Minute), model.SideSell)

	select {
	case c := <-candleCh:
		assertDec(t, "close", c.Close, "100")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed candle")
	}

	cancel()
	<-done
}

func TestAggregator_ConcurrentReads(t *testing.T) {
	a := New(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if c, ok := a.Current(); ok && !c.Valid() {
				t.Errorf("observed inconsistent candle: %+v", c)
				return
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		price := decimal.NewFromInt(int64(100 + i%7))
		a.Ingest(model.Trade{
			Price: price,
			Qty:   decimal.NewFromInt(1),
			TS:    base.Add(time.Duration(i) * 50 * time.Millisecond),
			Side:  model.SideBuy,
		})
	}
	close(stop)
	wg.Wait()
}
