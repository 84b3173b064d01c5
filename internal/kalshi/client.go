// Package kalshi is a read-only client for the Kalshi trade API: market
// listings, order books and settlement results.
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"momentum-botv1/internal/breaker"
	"momentum-botv1/internal/model"
)

// DefaultBaseURL is the public v2 endpoint.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// StatusFinalized is the market status after which Result is authoritative.
const StatusFinalized = "finalized"

// ErrStatus is wrapped for non-200 responses.
var ErrStatus = errors.New("kalshi: unexpected status")

// Config configures the client.
type Config struct {
	BaseURL     string
	ListTimeout time.Duration // market listing
	BookTimeout time.Duration // order book and market detail
	PageLimit   int           // markets per page
	MaxPages    int           // pagination stop
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ListTimeout <= 0 {
		c.ListTimeout = 10 * time.Second
	}
	if c.BookTimeout <= 0 {
		c.BookTimeout = 5 * time.Second
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 1000
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
}

// Client queries Kalshi. Every request passes through the breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *breaker.Breaker

	// Metrics hooks (optional, set externally)
	OnError func(op string, err error)
}

// New creates a Client. A nil breaker disables circuit breaking.
func New(cfg Config, b *breaker.Breaker) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: b,
	}
}

type marketJSON struct {
	Ticker    string `json:"ticker"`
	CloseTime string `json:"close_time"`
	Status    string `json:"status"`
	Result    string `json:"result"`
}

type marketsResponse struct {
	Markets []marketJSON `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type marketResponse struct {
	Market marketJSON `json:"market"`
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][]float64 `json:"yes"`
		No  [][]float64 `json:"no"`
	} `json:"orderbook"`
}

// ListMarkets returns the markets of a series, following the cursor.
func (c *Client) ListMarkets(ctx context.Context, series string) ([]model.Market, error) {
	var out []model.Market
	cursor := ""
	for page := 0; page < c.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("series_ticker", series)
		q.Set("limit", fmt.Sprint(c.cfg.PageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := c.get(ctx, "list_markets", "/markets?"+q.Encode(), c.cfg.ListTimeout, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Markets {
			closeAt, err := time.Parse(time.RFC3339, m.CloseTime)
			if err != nil {
				continue
			}
			out = append(out, model.Market{Ticker: m.Ticker, CloseTime: closeAt.UTC()})
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return out, nil
}

// OrderBook returns resting bids for both sides, ascending by price.
func (c *Client) OrderBook(ctx context.Context, ticker string) (model.OrderBook, error) {
	var resp orderbookResponse
	if err := c.get(ctx, "orderbook", "/markets/"+url.PathEscape(ticker)+"/orderbook", c.cfg.BookTimeout, &resp); err != nil {
		return model.OrderBook{}, err
	}
	return model.OrderBook{
		Yes: levels(resp.Orderbook.Yes),
		No:  levels(resp.Orderbook.No),
	}, nil
}

// Result reports the settlement outcome once the market is finalized.
func (c *Client) Result(ctx context.Context, ticker string) (model.Direction, bool, error) {
	var resp marketResponse
	if err := c.get(ctx, "market", "/markets/"+url.PathEscape(ticker), c.cfg.BookTimeout, &resp); err != nil {
		return "", false, err
	}
	if resp.Market.Status != StatusFinalized {
		return "", false, nil
	}
	d, ok := model.ParseDirection(resp.Market.Result)
	return d, ok, nil
}

// levels drops malformed entries such as [price] without a quantity.
func levels(raw [][]float64) []model.Level {
	out := make([]model.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 || l[0] <= 0 || l[0] >= 100 {
			continue
		}
		out = append(out, model.Level{Price: int64(l[0]), Qty: int64(l[1])})
	}
	return out
}

func (c *Client) get(ctx context.Context, op, path string, timeout time.Duration, dst any) error {
	call := func() error {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("kalshi %s: create request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("kalshi %s: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w %d on %s", ErrStatus, resp.StatusCode, op)
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("kalshi %s: decode: %w", op, err)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil && c.OnError != nil {
		c.OnError(op, err)
	}
	return err
}
