// Package gateway streams bot events to WebSocket clients. The Hub is a
// model.EventPublisher: the decision loop publishes opens and settlements,
// the candle fan-out publishes closed candles, and every connected client
// receives them as JSON envelopes with a monotonic sequence number.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"momentum-botv1/internal/model"

	"github.com/gorilla/websocket"
)

// Channels carried in Envelope.Channel.
const (
	ChannelCandle  = "candle"
	ChannelOpened  = "opened"
	ChannelSettled = "settled"
)

// Envelope is one message on the stream.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Channel string          `json:"channel"`
	TS      time.Time       `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Replay  bool            `json:"replay,omitempty"`
}

// Hub manages WebSocket clients and the replay buffer.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer
	now     func() time.Time

	upgrader websocket.Upgrader

	// OnDrop is called when a slow client misses a message.
	OnDrop func()
}

// NewHub creates a Hub retaining replaySize envelopes for backfill.
func NewHub(replaySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) PublishCandle(_ context.Context, c model.Candle) {
	h.publish(ChannelCandle, c)
}

func (h *Hub) PublishOpened(_ context.Context, p model.Position) {
	h.publish(ChannelOpened, p)
}

func (h *Hub) PublishSettled(_ context.Context, s model.Settlement) {
	h.publish(ChannelSettled, s)
}

// Run forwards closed candles from candleCh until ctx is done or the
// channel closes.
func (h *Hub) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			h.PublishCandle(ctx, c)
		}
	}
}

func (h *Hub) publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] encode %s: %v", channel, err)
		return
	}

	h.mu.Lock()
	h.seq++
	e := Envelope{Seq: h.seq, Channel: channel, TS: h.now().UTC(), Data: data}
	h.replay.Push(e)
	msg, _ := json.Marshal(e)
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	h.mu.Unlock()
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. With
// ?from_seq=N the client first receives retained envelopes from N on.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var fromSeq int64 = -1
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "bad from_seq", http.StatusBadRequest)
			return
		}
		fromSeq = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade error: %v", err)
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	// Replay and registration happen under the lock so no envelope is
	// skipped or duplicated between the two.
	h.mu.Lock()
	if fromSeq >= 0 {
		for _, e := range h.replay.Since(fromSeq) {
			e.Replay = true
			msg, _ := json.Marshal(e)
			select {
			case c.send <- msg:
			default:
			}
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	go c.writePump()
	go c.readPump()
}

// removeClient unregisters c and closes its queue. Safe to call twice.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
