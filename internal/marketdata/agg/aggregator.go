package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

// Aggregator builds fixed-interval OHLCV candles from a stream of trades.
// The current candle is guarded by mu; Current hands out copies, so a reader
// sees either the state before a trade or after it, never in between.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	cur      model.Candle
	has      bool

	// Metrics hooks (optional, set externally)
	OnDroppedTrade func()
	OnClosedCandle func(model.Candle)
}

// New creates an Aggregator for the given bucket interval.
func New(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{interval: interval}
}

// Interval returns the bucket width.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Run consumes trades from tradeCh and sends closed candles to candleCh.
// Blocks until ctx is cancelled or tradeCh is closed. The in-progress candle
// is not flushed on exit: it only closes when a later trade arrives.
func (a *Aggregator) Run(ctx context.Context, tradeCh <-chan model.Trade, candleCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tradeCh:
			if !ok {
				return
			}
			if closed, ok := a.Ingest(t); ok {
				a.emit(closed, candleCh)
			}
		}
	}
}

// Ingest folds one trade into the current candle. When the trade opens a new
// bucket, the previous candle is marked closed and returned.
func (a *Aggregator) Ingest(t model.Trade) (model.Candle, bool) {
	bucket := t.TS.UTC().Truncate(a.interval)
	takerBuy := decimal.Zero
	if t.Side == model.SideBuy {
		takerBuy = t.Qty
	}

	a.mu.Lock()
	if a.has && bucket.Before(a.cur.TS) {
		// Late trade for an already closed bucket
		a.mu.Unlock()
		if a.OnDroppedTrade != nil {
			a.OnDroppedTrade()
		}
		return model.Candle{}, false
	}

	if a.has && bucket.Equal(a.cur.TS) {
		c := &a.cur
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume = c.Volume.Add(t.Qty)
		c.TakerBuy = c.TakerBuy.Add(takerBuy)
		c.Trades++
		a.mu.Unlock()
		return model.Candle{}, false
	}

	closed, hadPrev := a.cur, a.has
	closed.Closed = true
	a.cur = model.Candle{
		TS:       bucket,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Qty,
		TakerBuy: takerBuy,
		Trades:   1,
	}
	a.has = true
	a.mu.Unlock()

	if !hadPrev {
		return model.Candle{}, false
	}
	if a.OnClosedCandle != nil {
		a.OnClosedCandle(closed)
	}
	return closed, true
}

// Current returns a snapshot of the in-progress candle.
func (a *Aggregator) Current() (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur, a.has
}

// emit sends a closed candle to candleCh. Non-blocking to avoid stalling the feed.
func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[agg] candleCh full, dropping candle ts=%v", c.TS)
	}
}
