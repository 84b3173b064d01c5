// Package binance downloads 1-minute klines for calibration. Unlike Kraken
// OHLC, Binance klines carry the real taker-buy base volume.
package binance

import (
	"context"
	"fmt"
	"time"

	"momentum-botv1/internal/model"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BaseURLUS is the Binance.US REST root, reachable from US hosts.
const BaseURLUS = "https://api.binance.us"

// Config configures the kline source.
type Config struct {
	BaseURL  string // empty -> Binance.US
	Symbol   string // e.g. "BTCUSDT"
	PageSize int    // klines per request, max 1000
	MaxPages int    // hard stop for one download
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = BaseURLUS
	}
	if c.Symbol == "" {
		c.Symbol = "BTCUSDT"
	}
	if c.PageSize <= 0 || c.PageSize > 1000 {
		c.PageSize = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 40
	}
}

// Source is a calibration.Source backed by the public klines endpoint.
type Source struct {
	cfg    Config
	client *binance.Client
}

// New creates a Source. No API key is needed for market data.
func New(cfg Config) *Source {
	cfg.defaults()
	client := binance.NewClient("", "")
	client.BaseURL = cfg.BaseURL
	return &Source{cfg: cfg, client: client}
}

// Name identifies the source in calibration results.
func (s *Source) Name() string { return "binance:" + s.cfg.Symbol }

// Candles returns closed 1-minute candles with bucket start in [since, until),
// oldest first. Pages forward from since until the window or MaxPages is exhausted.
func (s *Source) Candles(ctx context.Context, since, until time.Time) ([]model.Candle, error) {
	start := since.UTC().Truncate(time.Minute).UnixMilli()
	end := until.UTC().UnixMilli()

	var out []model.Candle
	for page := 0; page < s.cfg.MaxPages && start < end; page++ {
		klines, err := s.client.NewKlinesService().
			Symbol(s.cfg.Symbol).
			Interval("1m").
			StartTime(start).
			EndTime(end).
			Limit(s.cfg.PageSize).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}

		for _, k := range klines {
			// The forming minute closes after until; skip it.
			if k.CloseTime >= end {
				continue
			}
			c, err := toCandle(k)
			if err != nil {
				return nil, fmt.Errorf("binance klines: %w", err)
			}
			out = append(out, c)
		}

		if len(klines) < s.cfg.PageSize {
			break
		}
		start = klines[len(klines)-1].CloseTime + 1
	}
	return out, nil
}

func toCandle(k *binance.Kline) (model.Candle, error) {
	var (
		c   = model.Candle{TS: time.UnixMilli(k.OpenTime).UTC(), Trades: int(k.TradeNum), Closed: true}
		err error
	)
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&c.Open, k.Open},
		{&c.High, k.High},
		{&c.Low, k.Low},
		{&c.Close, k.Close},
		{&c.Volume, k.Volume},
		{&c.TakerBuy, k.TakerBuyBaseAssetVolume},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return model.Candle{}, fmt.Errorf("kline %d: %w", k.OpenTime, err)
		}
	}
	return c, nil
}
