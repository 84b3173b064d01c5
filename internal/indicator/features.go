// Package indicator derives the feature vector the signal rules read.
//
// The same row arithmetic backs two entry points: Batch walks a whole candle
// sequence (calibration), Stream advances incrementally on closed candles and
// previews the forming one (live). For any shared candle sequence both return
// identical rows.
package indicator

import (
	"github.com/moznion/go-optional"
)

// Feature names, as published in logs and status output.
const (
	NameMA5Rel        = "ma_5_rel"
	NameMA15Rel       = "ma_15_rel"
	NameMA30Rel       = "ma_30_rel"
	NameReturn5       = "return_5m"
	NameReturn15      = "return_15m"
	NameVol15         = "vol_15"
	NameVol60         = "vol_60"
	NameATR14         = "atr_14"
	NameRSI14         = "rsi_14"
	NameVolRatio      = "vol_ratio"
	NameTakerRatio    = "taker_ratio"
	NameMomentum      = "momentum_confluence"
	NameHighVolRegime = "high_vol_regime"
	NameHour          = "hour"
)

// MinHistory is the number of candles (including the row itself) needed before
// every rolling field is defined.
const MinHistory = 60

// RegimeWindow is the rolling window of vol_15 values used for high_vol_regime.
const RegimeWindow = 100

// Features is one row of derived indicators. Rolling fields stay None until
// their window is full. RSI, taker ratio, momentum and regime always carry a
// value because they have neutral defaults.
type Features struct {
	Close float64

	MA5Rel   optional.Option[float64]
	MA15Rel  optional.Option[float64]
	MA30Rel  optional.Option[float64]
	Return5  optional.Option[float64]
	Return15 optional.Option[float64]
	Vol15    optional.Option[float64]
	Vol60    optional.Option[float64]
	ATR14    optional.Option[float64]
	VolRatio optional.Option[float64]

	RSI           float64 // 50 when undefined
	TakerRatio    float64 // 0.5 when volume is zero
	Momentum      float64 // 0.5 when any input is undefined
	HighVolRegime float64 // 1 or 0
	Hour          int     // UTC hour of the candle bucket
}

func (f Features) rolling() []optional.Option[float64] {
	return []optional.Option[float64]{
		f.MA5Rel, f.MA15Rel, f.MA30Rel,
		f.Return5, f.Return15,
		f.Vol15, f.Vol60, f.ATR14, f.VolRatio,
	}
}

// Complete reports whether every rolling field is defined. Incomplete rows
// are excluded from calibration and from live evaluation.
func (f Features) Complete() bool {
	for _, o := range f.rolling() {
		if o.IsNone() {
			return false
		}
	}
	return true
}

// Map returns the defined fields keyed by feature name.
func (f Features) Map() map[string]float64 {
	m := map[string]float64{
		NameRSI14:         f.RSI,
		NameTakerRatio:    f.TakerRatio,
		NameMomentum:      f.Momentum,
		NameHighVolRegime: f.HighVolRegime,
		NameHour:          float64(f.Hour),
	}
	names := []string{
		NameMA5Rel, NameMA15Rel, NameMA30Rel,
		NameReturn5, NameReturn15,
		NameVol15, NameVol60, NameATR14, NameVolRatio,
	}
	for i, o := range f.rolling() {
		if o.IsSome() {
			m[names[i]] = o.Unwrap()
		}
	}
	return m
}

// Value returns an optional field or the fallback when it is undefined.
func Value(o optional.Option[float64], fallback float64) float64 {
	if o.IsSome() {
		return o.Unwrap()
	}
	return fallback
}
