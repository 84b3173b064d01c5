package indicator

import (
	"momentum-botv1/internal/model"

	"github.com/moznion/go-optional"
)

// RSIPeriod is the lookback of rsi_14.
const RSIPeriod = 14

// Batch computes the feature row for every candle in cs, oldest first.
// Row i only depends on cs[:i+1].
func Batch(cs []model.Candle) []Features {
	cols := toColumns(cs)
	n := len(cs)

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		gains[i], losses[i] = gainLoss(cols.close[i] - cols.close[i-1])
	}
	alpha := 1 / float64(RSIPeriod)
	avgGain := ewm(gains, alpha)
	avgLoss := ewm(losses, alpha)

	out := make([]Features, n)
	vol15 := make([]optional.Option[float64], n)
	for i := 0; i < n; i++ {
		f := cols.row(i)
		f.RSI = Value(rsiValue(i+1, RSIPeriod, avgGain[i], avgLoss[i]), 50)
		vol15[i] = f.Vol15
		lo := i + 1 - RegimeWindow
		if lo < 0 {
			lo = 0
		}
		f.HighVolRegime = regime(vol15[lo : i+1])
		out[i] = f
	}
	return out
}

// Last computes the feature row for the final candle in cs.
func Last(cs []model.Candle) (Features, bool) {
	if len(cs) == 0 {
		return Features{}, false
	}
	rows := Batch(cs)
	return rows[len(rows)-1], true
}

// ewm is an exponential average seeded with the first observation:
// y[0] = x[0], y[t] = (1-alpha)*y[t-1] + alpha*x[t].
func ewm(xs []float64, alpha float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if i == 0 {
			out[i] = x
			continue
		}
		out[i] = (1-alpha)*out[i-1] + alpha*x
	}
	return out
}
