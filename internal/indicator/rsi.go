package indicator

import "github.com/moznion/go-optional"

// RSI is the Relative Strength Index with Wilder smoothing, expressed as an
// exponential average with alpha = 1/period seeded from the first delta
// (which is zero). A value is defined once period observations exist.
// Update is O(1) per candle.
type RSI struct {
	period    int
	alpha     float64
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period, alpha: 1 / float64(period)}
}

func (r *RSI) Name() string { return "RSI" }

// Update feeds the close of a finalized candle.
func (r *RSI) Update(close float64) {
	r.count, r.avgGain, r.avgLoss = r.step(close)
	r.prevClose = close
}

// Ready returns true once period observations have been seen.
func (r *RSI) Ready() bool { return r.count >= r.period }

// Value returns the current RSI, None until ready or while avg loss is zero.
func (r *RSI) Value() optional.Option[float64] {
	return r.value(r.count, r.avgGain, r.avgLoss)
}

// Peek computes what Value() would be if a candle with this close were added
// next, without mutating state.
func (r *RSI) Peek(close float64) optional.Option[float64] {
	return r.value(r.step(close))
}

func (r *RSI) step(close float64) (int, float64, float64) {
	if r.count == 0 {
		return 1, 0, 0
	}
	gain, loss := gainLoss(close - r.prevClose)
	ag := (1-r.alpha)*r.avgGain + r.alpha*gain
	al := (1-r.alpha)*r.avgLoss + r.alpha*loss
	return r.count + 1, ag, al
}

func (r *RSI) value(count int, ag, al float64) optional.Option[float64] {
	return rsiValue(count, r.period, ag, al)
}

func rsiValue(count, period int, ag, al float64) optional.Option[float64] {
	if count < period || al == 0 {
		return optional.None[float64]()
	}
	return optional.Some(100 - 100/(1+ag/al))
}

func gainLoss(delta float64) (float64, float64) {
	if delta > 0 {
		return delta, 0
	}
	if delta < 0 {
		return 0, -delta
	}
	return 0, 0
}
