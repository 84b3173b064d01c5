package indicator

import (
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/ringbuf"

	"github.com/moznion/go-optional"
)

// Stream keeps the bounded candle history and the RSI state for the live
// path. Closed candles are promoted with Update; the forming candle is
// evaluated with Peek. Single owner, no locking.
type Stream struct {
	candles *ringbuf.Ring[model.Candle]
	vol15   *ringbuf.Ring[optional.Option[float64]]
	rsi     *RSI
}

// NewStream creates a Stream retaining up to capacity closed candles.
// Capacity is raised to MinHistory if smaller.
func NewStream(capacity int) *Stream {
	if capacity < MinHistory {
		capacity = MinHistory
	}
	return &Stream{
		candles: ringbuf.New[model.Candle](capacity),
		vol15:   ringbuf.New[optional.Option[float64]](RegimeWindow - 1),
		rsi:     NewRSI(RSIPeriod),
	}
}

// Peek returns the feature row the candle c would produce if appended,
// without mutating state.
func (s *Stream) Peek(c model.Candle) Features {
	win := append(s.candles.Slice(), c)
	f := toColumns(win).row(len(win) - 1)
	f.RSI = Value(s.rsi.Peek(f.Close), 50)
	f.HighVolRegime = regime(append(s.vol15.Slice(), f.Vol15))
	return f
}

// Update promotes a closed candle into the history and returns its row.
func (s *Stream) Update(c model.Candle) Features {
	f := s.Peek(c)
	s.candles.Push(c)
	s.vol15.Push(f.Vol15)
	s.rsi.Update(f.Close)
	return f
}

// Last returns the most recent closed candle.
func (s *Stream) Last() (model.Candle, bool) {
	return s.candles.Last()
}

// Len returns the number of closed candles retained.
func (s *Stream) Len() int { return s.candles.Len() }

// Candles returns a copy of the retained history, oldest first.
func (s *Stream) Candles() []model.Candle { return s.candles.Slice() }
