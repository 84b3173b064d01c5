// Package bus fans closed candles out to independent consumers (decision
// loop, candle store, event publisher).
package bus

import (
	"context"
	"log"
	"sync"

	"momentum-botv1/internal/model"
)

// FanOut broadcasts candles from a single input channel to N named output
// channels. If an output channel is full, the candle is dropped for that
// consumer so a slow store never stalls the decision loop.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int

	// OnDrop is called when a candle is dropped for a subscriber.
	OnDrop func(name string)
}

type subscriber struct {
	name string
	ch   chan model.Candle
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. Channels are closed
// when Run returns.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.publish(candle)
		}
	}
}

func (f *FanOut) publish(c model.Candle) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- c:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				log.Printf("[bus] %s full, dropping candle %s", s.name, c.TS.Format("15:04"))
			}
		}
	}
}

// ChannelStat reports saturation of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
