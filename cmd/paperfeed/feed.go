package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

type client struct {
	out        chan []byte
	subscribed bool
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{out: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.out)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		c.subscribed = true
	}
	h.mu.Unlock()
}

// send queues msg for one client; dropped when its queue is full.
func (h *hub) send(conn *websocket.Conn, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[conn]; ok {
		select {
		case c.out <- msg:
		default:
		}
	}
}

// broadcast queues msg for every subscribed client.
func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.subscribed {
			continue
		}
		select {
		case c.out <- msg:
		default: // slow client, drop frame
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── Kraken v1 framing ────────────────────────────────────────────────────────

type request struct {
	Event        string   `json:"event"`
	ReqID        int64    `json:"reqid,omitempty"`
	Pair         []string `json:"pair,omitempty"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

type trade struct {
	Price float64
	Qty   float64
	TS    time.Time
	Buy   bool
}

func systemStatus() []byte {
	return []byte(`{"event":"systemStatus","status":"online","version":"paperfeed"}`)
}

func heartbeat() []byte {
	return []byte(`{"event":"heartbeat"}`)
}

func pong(reqID int64) []byte {
	b, _ := json.Marshal(map[string]any{"event": "pong", "reqid": reqID})
	return b
}

func subscriptionStatus(pair, name string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":        "subscriptionStatus",
		"channelName":  name,
		"pair":         pair,
		"status":       "subscribed",
		"subscription": map[string]string{"name": name},
	})
	return b
}

// tradeFrame encodes trades as [channelID, [[price, volume, time, side, type, misc]...], "trade", pair].
func tradeFrame(pair string, ts []trade) []byte {
	rows := make([][]string, len(ts))
	for i, t := range ts {
		side := "s"
		if t.Buy {
			side = "b"
		}
		rows[i] = []string{
			fmt.Sprintf("%.1f", t.Price),
			fmt.Sprintf("%.8f", t.Qty),
			fmt.Sprintf("%d.%06d", t.TS.Unix(), t.TS.Nanosecond()/1000),
			side,
			"m",
			"",
		}
	}
	b, _ := json.Marshal([]any{0, rows, "trade", pair})
	return b
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, pair string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[paperfeed] upgrade error: %v", err)
			return
		}
		log.Printf("[paperfeed] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		h.send(conn, systemStatus())
		go readPump(h, conn, pair)
		defer func() {
			conn.Close()
			log.Printf("[paperfeed] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sole writer for this connection.
		for msg := range c.out {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(conn)
				return
			}
		}
	}
}

// readPump answers subscribe and ping requests until the client goes away.
func readPump(h *hub, conn *websocket.Conn, pair string) {
	defer h.unregister(conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		switch req.Event {
		case "ping":
			h.send(conn, pong(req.ReqID))
		case "subscribe":
			if req.Subscription.Name != "trade" {
				continue
			}
			h.subscribe(conn)
			h.send(conn, subscriptionStatus(pair, req.Subscription.Name))
			log.Printf("[paperfeed] subscribed %v", req.Pair)
		}
	}
}

// ─── Trade generator ──────────────────────────────────────────────────────────

type generator struct {
	rng      *rand.Rand
	price    float64
	vol      float64 // per-trade relative volatility
	drift    float64 // per-trade drift during a trend burst
	burst    int     // remaining trades in the current burst
	burstDir float64
}

func newGenerator(start, vol, drift float64, seed int64) *generator {
	return &generator{rng: rand.New(rand.NewSource(seed)), price: start, vol: vol, drift: drift}
}

// next applies a random walk with occasional trend bursts so the momentum
// rules get something to fire on.
func (g *generator) next(now time.Time) trade {
	if g.burst == 0 && g.rng.Float64() < 0.002 {
		g.burst = 200 + g.rng.Intn(400)
		g.burstDir = 1
		if g.rng.Intn(2) == 0 {
			g.burstDir = -1
		}
	}
	step := g.rng.NormFloat64() * g.vol
	if g.burst > 0 {
		step += g.burstDir * g.drift
		g.burst--
	}
	g.price *= 1 + step
	if g.price < 1 {
		g.price = 1
	}
	return trade{
		Price: g.price,
		Qty:   0.0001 + g.rng.ExpFloat64()*0.01,
		TS:    now.UTC(),
		Buy:   step >= 0 && g.rng.Float64() < 0.6 || step < 0 && g.rng.Float64() < 0.4,
	}
}

func runGenerator(h *hub, g *generator, pair string, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			h.broadcast(tradeFrame(pair, []trade{g.next(now)}))
		case <-idle.C:
			h.broadcast(heartbeat())
		}
	}
}
