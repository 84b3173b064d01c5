package indicator

import (
	"math"
	"sort"
	"time"

	"momentum-botv1/internal/model"

	"github.com/moznion/go-optional"
)

// columns is a candle sequence split into float series.
type columns struct {
	ts     []time.Time
	close  []float64
	hl     []float64 // high - low
	volume []float64
	taker  []float64
}

func toColumns(cs []model.Candle) columns {
	n := len(cs)
	c := columns{
		ts:     make([]time.Time, n),
		close:  make([]float64, n),
		hl:     make([]float64, n),
		volume: make([]float64, n),
		taker:  make([]float64, n),
	}
	for i, k := range cs {
		c.ts[i] = k.TS
		c.close[i] = k.Close.InexactFloat64()
		c.hl[i] = k.High.Sub(k.Low).InexactFloat64()
		c.volume[i] = k.Volume.InexactFloat64()
		c.taker[i] = k.TakerBuy.InexactFloat64()
	}
	return c
}

// row computes every field that depends only on trailing windows ending at i.
// RSI and the regime flag need state across rows and are filled by callers.
func (c columns) row(i int) Features {
	px := c.close[i]
	f := Features{
		Close: px,
		Hour:  c.ts[i].UTC().Hour(),
	}

	f.MA5Rel = relMA(c.close, i, 5)
	f.MA15Rel = relMA(c.close, i, 15)
	f.MA30Rel = relMA(c.close, i, 30)
	f.Return5 = pctChange(c.close, i, 5)
	f.Return15 = pctChange(c.close, i, 15)
	f.Vol15 = scaled(stdWindow(c.close, i, 15), px)
	f.Vol60 = scaled(stdWindow(c.close, i, 60), px)
	f.ATR14 = scaled(meanWindow(c.hl, i, 14), px)

	if m := meanWindow(c.volume, i, 20); m.IsSome() && m.Unwrap() != 0 {
		f.VolRatio = optional.Some(c.volume[i] / m.Unwrap())
	}

	f.TakerRatio = 0.5
	if c.volume[i] > 0 {
		f.TakerRatio = c.taker[i] / c.volume[i]
	}

	f.Momentum = 0.5
	if f.Return5.IsSome() && f.Return15.IsSome() && f.MA5Rel.IsSome() {
		hits := 0
		for _, v := range []float64{f.Return5.Unwrap(), f.Return15.Unwrap(), f.MA5Rel.Unwrap()} {
			if v > 0 {
				hits++
			}
		}
		f.Momentum = float64(hits) / 3
	}
	return f
}

func window(xs []float64, i, w int) ([]float64, bool) {
	if w <= 0 || i+1 < w {
		return nil, false
	}
	return xs[i+1-w : i+1], true
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the standard deviation with n-1 in the denominator.
func sampleStd(xs []float64) float64 {
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// quantile uses linear interpolation between closest ranks.
func quantile(xs []float64, q float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

func meanWindow(xs []float64, i, w int) optional.Option[float64] {
	win, ok := window(xs, i, w)
	if !ok {
		return optional.None[float64]()
	}
	return optional.Some(mean(win))
}

func stdWindow(xs []float64, i, w int) optional.Option[float64] {
	win, ok := window(xs, i, w)
	if !ok || w < 2 {
		return optional.None[float64]()
	}
	return optional.Some(sampleStd(win))
}

func relMA(xs []float64, i, w int) optional.Option[float64] {
	m := meanWindow(xs, i, w)
	if m.IsNone() || m.Unwrap() == 0 {
		return optional.None[float64]()
	}
	return optional.Some((xs[i] - m.Unwrap()) / m.Unwrap())
}

func pctChange(xs []float64, i, w int) optional.Option[float64] {
	if i < w || xs[i-w] == 0 {
		return optional.None[float64]()
	}
	return optional.Some(xs[i]/xs[i-w] - 1)
}

func scaled(o optional.Option[float64], px float64) optional.Option[float64] {
	if o.IsNone() || px == 0 {
		return optional.None[float64]()
	}
	return optional.Some(o.Unwrap() / px)
}

// regime flags vol_15 above the 0.75 quantile of the trailing vol_15 window.
// history holds the window's vol_15 values, current row last.
func regime(history []optional.Option[float64]) float64 {
	if len(history) == 0 {
		return 0
	}
	cur := history[len(history)-1]
	vals := make([]float64, 0, len(history))
	for _, o := range history {
		if o.IsSome() {
			vals = append(vals, o.Unwrap())
		}
	}
	if cur.IsNone() || len(vals) < 20 {
		return 0
	}
	if cur.Unwrap() > quantile(vals, 0.75) {
		return 1
	}
	return 0
}
