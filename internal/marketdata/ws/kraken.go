// Package ws maintains the Kraken trade stream. The Supervisor dials the
// public WebSocket, subscribes to one pair's trade channel and pushes every
// print into tradeCh, reconnecting after a fixed delay whenever the
// connection drops or is forced closed.
//
// Kraken v1 frames come in two shapes:
//
//	{"event":"heartbeat"}
//	[337,[["64210.10000","0.00150000","1717000000.123456","b","m",""]],"trade","XBT/USD"]
//
// Both count as liveness; only the array form carries trades.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"momentum-botv1/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// DefaultURL is Kraken's public v1 endpoint.
const DefaultURL = "wss://ws.kraken.com"

// Config holds configuration for the supervisor.
type Config struct {
	// URL of the trade WebSocket, e.g. "wss://ws.kraken.com"
	URL string

	// Pair in Kraken WS notation. Defaults to "XBT/USD".
	Pair string

	// ReconnectDelay is the fixed pause between attempts. Defaults to 2s.
	ReconnectDelay time.Duration

	// PingInterval is how often the client sends {"event":"ping"}. Defaults to 20s.
	PingInterval time.Duration

	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Pair == "" {
		c.Pair = "XBT/USD"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Supervisor owns the single live connection.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	lastMsg    atomic.Int64 // unix nanos of the last frame of any kind
	reconnects atomic.Int64

	// Optional hooks
	OnReconnect func()
	OnTrade     func(model.Trade)
	OnDrop      func()
}

// New creates a Supervisor. Returns an error if the URL is unparseable.
func New(cfg Config) (*Supervisor, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	s := &Supervisor{cfg: cfg}
	s.touch()
	return s, nil
}

// Run streams trades into tradeCh until ctx is cancelled. Disconnects are
// never fatal.
func (s *Supervisor) Run(ctx context.Context, tradeCh chan<- model.Trade) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.runOnce(ctx, tradeCh)
		if ctx.Err() != nil {
			return nil
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, s.cfg.ReconnectDelay)
		s.reconnects.Add(1)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// ForceReconnect closes the live connection; Run dials again after the delay.
func (s *Supervisor) ForceReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		log.Printf("[ws] forcing reconnect")
		s.conn.Close()
	}
}

// Staleness is the time since the last frame, keepalives included.
func (s *Supervisor) Staleness(now time.Time) time.Duration {
	d := now.Sub(time.Unix(0, s.lastMsg.Load()))
	if d < 0 {
		return 0
	}
	return d
}

// Connected reports whether a connection is currently open.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Reconnects returns how many times the connection has been re-established.
func (s *Supervisor) Reconnects() int64 { return s.reconnects.Load() }

func (s *Supervisor) touch() { s.lastMsg.Store(time.Now().UnixNano()) }

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (s *Supervisor) runOnce(ctx context.Context, tradeCh chan<- model.Trade) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	s.touch()
	log.Printf("[ws] connected to %s", s.cfg.URL)

	if err := s.write(conn, subscribeMsg(s.cfg.Pair)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.touch()

		trades, event, err := ParseMessage(raw)
		if err != nil {
			log.Printf("[ws] parse error: %v (raw: %.200s)", err, raw)
			continue
		}
		if event == "subscriptionStatus" || event == "error" {
			log.Printf("[ws] %s: %s", event, raw)
		}

		for _, t := range trades {
			if s.OnTrade != nil {
				s.OnTrade(t)
			}
			select {
			case tradeCh <- t:
			default:
				if s.OnDrop != nil {
					s.OnDrop()
				} else {
					log.Println("[ws] tradeCh full, dropping trade")
				}
			}
		}
	}
}

// keepalive pings on a fixed interval and closes the connection when ctx ends.
func (s *Supervisor) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			s.writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			s.writeMu.Unlock()
			conn.Close()
			return
		case <-ticker.C:
			if err := s.write(conn, []byte(`{"event":"ping"}`)); err != nil {
				log.Printf("[ws] ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (s *Supervisor) write(conn *websocket.Conn, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func subscribeMsg(pair string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":        "subscribe",
		"pair":         []string{pair},
		"subscription": map[string]string{"name": "trade"},
	})
	return b
}

var errShortFrame = errors.New("short trade frame")

// ParseMessage decodes one frame. Object frames return their event name and
// no trades; trade arrays return the decoded prints. Malformed prints inside
// an otherwise valid frame are skipped.
func ParseMessage(raw []byte) ([]model.Trade, string, error) {
	if len(raw) == 0 {
		return nil, "", errShortFrame
	}
	if raw[0] == '{' {
		var ev struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, "", err
		}
		return nil, ev.Event, nil
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, "", err
	}
	if len(frame) < 4 {
		return nil, "", errShortFrame
	}
	var channel string
	if err := json.Unmarshal(frame[len(frame)-2], &channel); err != nil || channel != "trade" {
		return nil, channel, nil
	}

	var rows [][]string
	if err := json.Unmarshal(frame[1], &rows); err != nil {
		return nil, "trade", fmt.Errorf("trade rows: %w", err)
	}
	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		t, ok := parseTrade(r)
		if ok {
			trades = append(trades, t)
		}
	}
	return trades, "trade", nil
}

// parseTrade reads [price, volume, time, side, orderType, misc].
func parseTrade(r []string) (model.Trade, bool) {
	if len(r) < 4 {
		return model.Trade{}, false
	}
	price, err := decimal.NewFromString(r[0])
	if err != nil || !price.IsPositive() {
		return model.Trade{}, false
	}
	qty, err := decimal.NewFromString(r[1])
	if err != nil || qty.IsNegative() {
		return model.Trade{}, false
	}
	ts, err := parseEpoch(r[2])
	if err != nil {
		return model.Trade{}, false
	}
	side := model.SideSell
	if r[3] == "b" {
		side = model.SideBuy
	}
	return model.Trade{Price: price, Qty: qty, TS: ts, Side: side}, true
}

// parseEpoch converts "1717000000.123456" to a UTC time without float rounding.
func parseEpoch(s string) (time.Time, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	sec := d.IntPart()
	nanos := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
	return time.Unix(sec, nanos).UTC(), nil
}
