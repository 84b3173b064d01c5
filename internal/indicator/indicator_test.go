package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"momentum-botv1/internal/model"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)

func candle(i int, close float64) model.Candle {
	px := decimal.NewFromFloat(close)
	return model.Candle{
		TS:       t0.Add(time.Duration(i) * time.Minute),
		Open:     px,
		High:     px.Add(decimal.NewFromFloat(0.5)),
		Low:      px.Sub(decimal.NewFromFloat(0.5)),
		Close:    px,
		Volume:   decimal.NewFromInt(10),
		TakerBuy: decimal.NewFromInt(6),
		Closed:   true,
	}
}

func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(i, c)
	}
	return out
}

func randomWalk(n int, seed int64) []model.Candle {
	rng := rand.New(rand.NewSource(seed))
	px := 65000.0
	out := make([]model.Candle, n)
	for i := range out {
		open := px
		px += rng.NormFloat64() * 40
		hi := math.Max(open, px) + rng.Float64()*15
		lo := math.Min(open, px) - rng.Float64()*15
		vol := rng.Float64() * 5
		if i%37 == 0 {
			vol = 0
		}
		out[i] = model.Candle{
			TS:       t0.Add(time.Duration(i) * time.Minute),
			Open:     decimal.NewFromFloat(open).Round(2),
			High:     decimal.NewFromFloat(hi).Round(2),
			Low:      decimal.NewFromFloat(lo).Round(2),
			Close:    decimal.NewFromFloat(px).Round(2),
			Volume:   decimal.NewFromFloat(vol).Round(6),
			TakerBuy: decimal.NewFromFloat(vol * rng.Float64()).Round(6),
			Closed:   true,
		}
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertOpt(t *testing.T, label string, got, want optional.Option[float64]) {
	t.Helper()
	if got.IsSome() != want.IsSome() {
		t.Errorf("%s: defined=%v, want %v", label, got.IsSome(), want.IsSome())
		return
	}
	if got.IsSome() {
		assertClose(t, label, got.Unwrap(), want.Unwrap(), 1e-9)
	}
}

func assertRow(t *testing.T, i int, got, want Features) {
	t.Helper()
	assertOpt(t, "ma_5_rel", got.MA5Rel, want.MA5Rel)
	assertOpt(t, "ma_15_rel", got.MA15Rel, want.MA15Rel)
	assertOpt(t, "ma_30_rel", got.MA30Rel, want.MA30Rel)
	assertOpt(t, "return_5m", got.Return5, want.Return5)
	assertOpt(t, "return_15m", got.Return15, want.Return15)
	assertOpt(t, "vol_15", got.Vol15, want.Vol15)
	assertOpt(t, "vol_60", got.Vol60, want.Vol60)
	assertOpt(t, "atr_14", got.ATR14, want.ATR14)
	assertOpt(t, "vol_ratio", got.VolRatio, want.VolRatio)
	assertClose(t, "rsi", got.RSI, want.RSI, 1e-9)
	assertClose(t, "taker_ratio", got.TakerRatio, want.TakerRatio, 1e-12)
	assertClose(t, "momentum", got.Momentum, want.Momentum, 1e-12)
	if got.HighVolRegime != want.HighVolRegime {
		t.Errorf("row %d high_vol_regime: got %v, want %v", i, got.HighVolRegime, want.HighVolRegime)
	}
	if got.Hour != want.Hour {
		t.Errorf("row %d hour: got %d, want %d", i, got.Hour, want.Hour)
	}
}

// ────────────────────────────────────────────────────────────
// Live / batch parity
// ────────────────────────────────────────────────────────────

func TestParity_StreamMatchesBatch(t *testing.T) {
	cs := randomWalk(300, 7)
	batch := Batch(cs)

	s := NewStream(120)
	for i, c := range cs {
		peek := s.Peek(c)
		got := s.Update(c)
		assertRow(t, i, peek, batch[i])
		assertRow(t, i, got, batch[i])
		if t.Failed() {
			t.Fatalf("parity broken at row %d", i)
		}
	}
}

func TestParity_MinimalCapacity(t *testing.T) {
	cs := randomWalk(250, 11)
	batch := Batch(cs)

	s := NewStream(1) // raised to MinHistory
	for i, c := range cs {
		assertRow(t, i, s.Update(c), batch[i])
	}
	if s.Len() != MinHistory {
		t.Errorf("expected len=%d, got %d", MinHistory, s.Len())
	}
}

func TestStream_PeekDoesNotMutate(t *testing.T) {
	cs := randomWalk(80, 3)
	s := NewStream(100)
	for _, c := range cs[:79] {
		s.Update(c)
	}
	a := s.Peek(cs[79])
	b := s.Peek(cs[79])
	assertRow(t, 79, a, b)
	if s.Len() != 79 {
		t.Errorf("peek changed history length to %d", s.Len())
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_DefaultsBeforePeriod(t *testing.T) {
	rows := Batch(series(100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94))
	for i, f := range rows {
		if f.RSI != 50 {
			t.Errorf("row %d: expected default RSI=50, got %.4f", i, f.RSI)
		}
	}

	r := NewRSI(14)
	for i := 0; i < 13; i++ {
		r.Update(100 + float64(i%3))
	}
	if r.Ready() {
		t.Error("RSI should not be ready after 13 observations")
	}
}

func TestRSI_WilderEWM(t *testing.T) {
	// Exponential average with alpha=1/14 seeded at the first (zero) delta.
	rows := Batch(series(100, 102, 101, 103, 104, 103, 105, 107, 106, 108, 107, 109, 110, 108, 111, 109))
	assertClose(t, "rsi row 12", rows[12].RSI, 50, 1e-12)
	assertClose(t, "rsi row 13", rows[13].RSI, 66.488219, 1e-5)
	assertClose(t, "rsi row 14", rows[14].RSI, 73.003354, 1e-5)
	assertClose(t, "rsi row 15", rows[15].RSI, 64.061701, 1e-5)
}

func TestRSI_NoLossesDefaults(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rows := Batch(series(closes...))
	if rows[29].RSI != 50 {
		t.Errorf("zero average loss must default RSI to 50, got %.4f", rows[29].RSI)
	}
}

func TestRSI_PeekMatchesUpdate(t *testing.T) {
	r := NewRSI(14)
	prices := []float64{100, 102, 101, 103, 104, 103, 105, 107, 106, 108, 107, 109, 110, 108, 111}
	for _, p := range prices[:14] {
		r.Update(p)
	}
	peek := r.Peek(prices[14])
	r.Update(prices[14])
	assertOpt(t, "peek vs update", peek, r.Value())
}

// ────────────────────────────────────────────────────────────
// Rolling fields
// ────────────────────────────────────────────────────────────

func TestFeatures_MovingAverageAndReturns(t *testing.T) {
	rows := Batch(series(100, 101, 102, 103, 104, 110))

	// ma_5 at row 4: mean(100..104) = 102
	assertClose(t, "ma_5_rel", rows[4].MA5Rel.Unwrap(), (104.0-102.0)/102.0, 1e-12)
	if rows[3].MA5Rel.IsSome() {
		t.Error("ma_5_rel defined with only 4 candles")
	}
	// return_5m at row 5: 110/100 - 1
	assertClose(t, "return_5m", rows[5].Return5.Unwrap(), 0.10, 1e-12)
	if rows[4].Return5.IsSome() {
		t.Error("return_5m defined without 5 prior candles")
	}
	// high - low is 1.0 everywhere, but 14 rows are needed
	if rows[5].ATR14.IsSome() {
		t.Error("atr_14 defined with 6 candles")
	}
}

func TestFeatures_VolatilityUsesSampleStd(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(100 + i%2) // 100,101,100,...
	}
	rows := Batch(series(closes...))
	// 8 x 100, 7 x 101: mean=100.4667, sample var = 15*(8/15)*(7/15)/14
	m := (8*100.0 + 7*101.0) / 15
	ss := 8*(100-m)*(100-m) + 7*(101-m)*(101-m)
	want := math.Sqrt(ss/14) / closes[14]
	assertClose(t, "vol_15", rows[14].Vol15.Unwrap(), want, 1e-12)
}

func TestFeatures_TakerRatioAndVolumeDefaults(t *testing.T) {
	cs := series(100, 101)
	cs[1].Volume = decimal.Zero
	cs[1].TakerBuy = decimal.Zero
	rows := Batch(cs)

	assertClose(t, "taker row 0", rows[0].TakerRatio, 0.6, 1e-12)
	assertClose(t, "taker zero volume", rows[1].TakerRatio, 0.5, 1e-12)
	assertClose(t, "momentum undefined", rows[1].Momentum, 0.5, 1e-12)
}

func TestFeatures_MomentumConfluence(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rows := Batch(series(closes...))
	assertClose(t, "all up", rows[19].Momentum, 1, 1e-12)

	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	rows = Batch(series(closes...))
	assertClose(t, "all down", rows[19].Momentum, 0, 1e-12)
}

func TestFeatures_CompleteNeedsFullWindow(t *testing.T) {
	rows := Batch(randomWalk(MinHistory+1, 5))
	if rows[MinHistory-2].Complete() {
		t.Errorf("row %d should be incomplete", MinHistory-2)
	}
	for _, i := range []int{MinHistory - 1, MinHistory} {
		if !rows[i].Complete() {
			t.Errorf("row %d should be complete: %+v", i, rows[i].Map())
		}
	}
	m := rows[MinHistory].Map()
	for _, name := range []string{NameVol60, NameRSI14, NameReturn15, NameHour} {
		if _, ok := m[name]; !ok {
			t.Errorf("map missing %s", name)
		}
	}
}

func TestFeatures_HighVolRegime(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 0.01*float64(i%2)
	}
	// sharp swings at the end push vol_15 above its 0.75 quantile
	for i := 50; i < 60; i++ {
		closes[i] = 100 + 5*float64(i%2)
	}
	rows := Batch(series(closes...))
	if rows[30].HighVolRegime != 0 {
		t.Errorf("row 30: expected calm regime, got %v", rows[30].HighVolRegime)
	}
	if rows[59].HighVolRegime != 1 {
		t.Errorf("row 59: expected high vol regime, got %v", rows[59].HighVolRegime)
	}
	// fewer than 20 vol_15 observations
	if rows[20].HighVolRegime != 0 {
		t.Errorf("row 20: regime must be 0 before 20 observations")
	}
}

func TestFeatures_HourIsUTC(t *testing.T) {
	f, ok := Last(series(100, 101))
	if !ok {
		t.Fatal("expected a row")
	}
	if f.Hour != 21 {
		t.Errorf("expected hour=21, got %d", f.Hour)
	}
}
