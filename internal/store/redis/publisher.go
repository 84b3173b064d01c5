package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"momentum-botv1/internal/breaker"
	"momentum-botv1/internal/model"
)

// Event kinds on the position stream.
const (
	EventOpened  = "opened"
	EventSettled = "settled"
	kindCandle   = "candle"
)

// sink is the raw write surface; *Writer implements it.
type sink interface {
	writeCandle(ctx context.Context, data []byte) error
	writeEvent(ctx context.Context, kind string, data []byte) error
	Close() error
}

// pendingWrite represents a write that was buffered during circuit-open state.
type pendingWrite struct {
	Kind string
	Data []byte
}

// Publisher wraps a Writer with a circuit breaker. While the breaker is open,
// writes are buffered locally and flushed when it closes again. Publishing
// never blocks the caller on Redis errors.
type Publisher struct {
	sink sink
	cb   *breaker.Breaker
	ctx  context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
	OnError  func(err error)
}

// NewPublisher creates a Publisher. ctx bounds background flushes.
func NewPublisher(ctx context.Context, w *Writer, cb *breaker.Breaker, maxBufferSize int) *Publisher {
	return newPublisher(ctx, w, cb, maxBufferSize)
}

func newPublisher(ctx context.Context, s sink, cb *breaker.Breaker, maxBufferSize int) *Publisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	p := &Publisher{
		sink:   s,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go p.flush()
		}
	}
	return p
}

// PublishCandle writes a closed candle.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) {
	p.write(ctx, kindCandle, c.JSON())
}

// PublishOpened appends an opened-position event.
func (p *Publisher) PublishOpened(ctx context.Context, pos model.Position) {
	data, err := json.Marshal(pos)
	if err != nil {
		log.Printf("[redis-pub] marshal error: %v", err)
		return
	}
	p.write(ctx, EventOpened, data)
}

// PublishSettled appends a settlement event.
func (p *Publisher) PublishSettled(ctx context.Context, s model.Settlement) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("[redis-pub] marshal error: %v", err)
		return
	}
	p.write(ctx, EventSettled, data)
}

// Run publishes closed candles from candleCh until ctx is done or the channel closes.
func (p *Publisher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			p.PublishCandle(ctx, c)
		}
	}
}

func (p *Publisher) write(ctx context.Context, kind string, data []byte) {
	err := p.cb.Execute(func() error { return p.send(ctx, kind, data) })
	switch {
	case err == nil:
	case errors.Is(err, breaker.ErrOpen):
		p.bufferWrite(kind, data)
	default:
		// The failure counted against the breaker; keep the write for later.
		p.bufferWrite(kind, data)
		if p.OnError != nil {
			p.OnError(err)
		} else {
			log.Printf("[redis-pub] %s write failed: %v", kind, err)
		}
	}
}

func (p *Publisher) send(ctx context.Context, kind string, data []byte) error {
	if kind == kindCandle {
		return p.sink.writeCandle(ctx, data)
	}
	return p.sink.writeEvent(ctx, kind, data)
}

func (p *Publisher) bufferWrite(kind string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		// Buffer full: drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pendingWrite{Kind: kind, Data: data})

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays all buffered writes. Writes that fail again are re-buffered.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := p.buffer
	p.buffer = make([]pendingWrite, 0, 256)
	p.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		if err := p.send(p.ctx, pw.Kind, pw.Data); err != nil {
			log.Printf("[redis-pub] flush stopped after %d writes: %v", flushed, err)
			for _, rest := range toFlush[i:] {
				p.bufferWrite(rest.Kind, rest.Data)
			}
			break
		}
		flushed++
	}

	log.Printf("[redis-pub] flushed %d buffered writes", flushed)
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.sink.Close()
}
