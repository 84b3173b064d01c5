// Package warmup seeds candle history from Kraken's public OHLC endpoint so
// the indicator window is full before the first live trade closes a candle.
package warmup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultBaseURL is Kraken's public REST root.
const DefaultBaseURL = "https://api.kraken.com"

var ErrEmpty = errors.New("warmup: no candles returned")

// Config configures the fetcher.
type Config struct {
	BaseURL  string
	Pair     string        // REST notation, e.g. "XBTUSD"
	Interval int           // minutes
	Limit    int           // closed candles to keep
	Timeout  time.Duration // per request
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Pair == "" {
		c.Pair = "XBTUSD"
	}
	if c.Interval <= 0 {
		c.Interval = 1
	}
	if c.Limit <= 0 {
		c.Limit = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Fetcher downloads recent OHLC candles.
type Fetcher struct {
	cfg  Config
	http *http.Client
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{cfg: cfg, http: &http.Client{}}
}

type ohlcResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// Fetch returns up to Limit closed candles, oldest first. Kraken's last row
// is the still-forming candle and is dropped. Kraken has no taker split, so
// TakerBuy is approximated as half the volume.
func (f *Fetcher) Fetch(ctx context.Context) ([]model.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("pair", f.cfg.Pair)
	q.Set("interval", fmt.Sprint(f.cfg.Interval))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/0/public/OHLC?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("warmup: create request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warmup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("warmup: status %d", resp.StatusCode)
	}

	var body ohlcResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("warmup: decode: %w", err)
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("warmup: kraken: %s", strings.Join(body.Error, "; "))
	}

	var rows [][]any
	for key, raw := range body.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("warmup: rows: %w", err)
		}
		break
	}
	if len(rows) < 2 {
		return nil, ErrEmpty
	}
	rows = rows[:len(rows)-1]

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		c, ok := parseRow(r)
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	if len(out) > f.cfg.Limit {
		out = out[len(out)-f.cfg.Limit:]
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

var half = decimal.NewFromFloat(0.5)

// parseRow reads [time, open, high, low, close, vwap, volume, count].
func parseRow(r []any) (model.Candle, bool) {
	if len(r) < 8 {
		return model.Candle{}, false
	}
	sec, ok := r[0].(float64)
	if !ok {
		return model.Candle{}, false
	}
	var vals [5]decimal.Decimal
	for i, idx := range []int{1, 2, 3, 4, 6} {
		s, ok := r[idx].(string)
		if !ok {
			return model.Candle{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, false
		}
		vals[i] = d
	}
	count, _ := r[7].(float64)
	c := model.Candle{
		TS:       time.Unix(int64(sec), 0).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		TakerBuy: vals[4].Mul(half),
		Trades:   int(count),
		Closed:   true,
	}
	return c, c.Valid()
}
