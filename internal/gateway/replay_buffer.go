package gateway

import (
	"sort"
	"sync"

	"momentum-botv1/internal/ringbuf"
)

// ReplayBuffer keeps the most recent envelopes so a client reconnecting with
// ?from_seq= can catch up. Envelopes must be pushed in increasing Seq order.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[Envelope]
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[Envelope](capacity)}
}

// Push appends e, evicting the oldest envelope when full.
func (rb *ReplayBuffer) Push(e Envelope) {
	rb.mu.Lock()
	rb.ring.Push(e)
	rb.mu.Unlock()
}

// Since returns the retained envelopes with Seq >= fromSeq, oldest first.
func (rb *ReplayBuffer) Since(fromSeq int64) []Envelope {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.ring.Len()
	start := sort.Search(n, func(i int) bool { return rb.ring.At(i).Seq >= fromSeq })
	if start == n {
		return nil
	}
	out := make([]Envelope, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, rb.ring.At(i))
	}
	return out
}

func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
