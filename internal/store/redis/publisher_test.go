package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"momentum-botv1/internal/breaker"
	"momentum-botv1/internal/calibration"
	"momentum-botv1/internal/model"
	"momentum-botv1/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	fail   bool
	writes []string
}

func (f *fakeSink) record(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.writes = append(f.writes, kind)
	return nil
}

func (f *fakeSink) writeCandle(ctx context.Context, data []byte) error { return f.record(kindCandle) }
func (f *fakeSink) writeEvent(ctx context.Context, kind string, data []byte) error {
	return f.record(kind)
}
func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSink) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func TestPublisher_BuffersWhileOpenAndFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{fail: true}
	cb := breaker.New("redis", 1, 20*time.Millisecond)
	pub := newPublisher(ctx, sink, cb, 0)

	var errs int
	pub.OnError = func(error) { errs++ }

	pos := model.Position{ID: "p-1", Direction: model.Yes, EntryPrice: decimal.RequireFromString("0.55"), Contracts: 3}
	pub.PublishOpened(ctx, pos)
	assert.Equal(t, breaker.StateOpen, cb.CurrentState())
	assert.Equal(t, 1, errs)

	pub.PublishCandle(ctx, model.Candle{TS: time.Now().UTC().Truncate(time.Minute), Closed: true})
	assert.Equal(t, 2, pub.PendingCount())
	assert.Empty(t, sink.kinds())

	sink.setFail(false)
	time.Sleep(30 * time.Millisecond)
	pub.PublishSettled(ctx, model.Settlement{Position: pos, Outcome: model.Yes, Won: true})

	require.Eventually(t, func() bool { return pub.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sink.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventSettled, EventOpened, kindCandle}, sink.kinds())
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())
}

func TestPublisher_BufferDropsOldest(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb := breaker.New("redis", 1, time.Hour)
	pub := newPublisher(context.Background(), sink, cb, 2)

	for i := 0; i < 5; i++ {
		pub.PublishCandle(context.Background(), model.Candle{})
	}
	assert.Equal(t, 2, pub.PendingCount())
}

func TestPublisher_RunConsumesChannel(t *testing.T) {
	sink := &fakeSink{}
	pub := newPublisher(context.Background(), sink, breaker.New("redis", 3, time.Second), 0)

	ch := make(chan model.Candle, 3)
	ch <- model.Candle{}
	ch <- model.Candle{}
	close(ch)
	pub.Run(context.Background(), ch)
	assert.Equal(t, []string{kindCandle, kindCandle}, sink.kinds())
}

// Integration tests need a live server: REDIS_ADDR=localhost:6379 go test ./...
func liveWriter(t *testing.T) *Writer {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	w, err := New(WriterConfig{Addr: addr, Prefix: "test:" + t.Name() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := w.client.Keys(ctx, w.prefix+"*").Result()
		if len(keys) > 0 {
			w.client.Del(ctx, keys...)
		}
		w.Close()
	})
	return w
}

func TestCache_RoundTrip(t *testing.T) {
	w := liveWriter(t)
	ctx := context.Background()
	cache := NewCache(w, time.Minute)

	_, ok, err := cache.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	res := calibration.Result{
		Table:   strategy.Table{strategy.RuleRSI80: 0.71},
		Samples: map[string]int{strategy.RuleRSI80: 40},
		Rows:    20000,
		Source:  "binance:BTCUSDT",
	}
	require.NoError(t, cache.SaveCalibration(ctx, res))

	got, ok, err := cache.LoadCalibration(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.71, got.Table[strategy.RuleRSI80], 1e-9)
	assert.Equal(t, 40, got.Samples[strategy.RuleRSI80])
}

func TestWriter_EventsStream(t *testing.T) {
	w := liveWriter(t)
	ctx := context.Background()
	require.NoError(t, w.writeEvent(ctx, EventOpened, []byte(`{"id":"a"}`)))
	require.NoError(t, w.writeEvent(ctx, EventSettled, []byte(`{"id":"a"}`)))
	require.NoError(t, w.writeCandle(ctx, []byte(`{}`)))

	events, err := w.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventSettled, events[0]["type"])
}
