package bus

import (
	"context"
	"testing"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

func candleAt(min int) model.Candle {
	return model.Candle{
		TS:     time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC),
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(110),
		Low:    decimal.NewFromInt(90),
		Close:  decimal.NewFromInt(105),
		Closed: true,
	}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("bot")
	out2 := fo.Subscribe("sqlite")

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- candleAt(5)

	for i, out := range []<-chan model.Candle{out1, out2} {
		select {
		case c := <-out:
			if c.TS.Minute() != 5 || !c.Close.Equal(decimal.NewFromInt(105)) {
				t.Errorf("out%d: unexpected candle %+v", i+1, c)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for candle", i+1)
		}
	}
}

func TestFanOut_SlowSubscriberDrops(t *testing.T) {
	fo := New(1)
	fast := fo.Subscribe("bot")
	fo.Subscribe("redis") // never drained

	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan model.Candle)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	for m := 0; m < 3; m++ {
		input <- candleAt(m)
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}
	close(input)
	<-done

	if got := len(dropped); got != 2 {
		t.Fatalf("expected 2 drops for the slow subscriber, got %d", got)
	}
	if name := <-dropped; name != "redis" {
		t.Errorf("dropped for %q, want redis", name)
	}

	stats := fo.ChannelStats()
	if len(stats) != 2 || stats[1].Len != 1 || stats[1].Cap != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New(1)
	out := fo.Subscribe("bot")
	input := make(chan model.Candle)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done
	if _, ok := <-out; ok {
		t.Error("expected output channel closed")
	}
}
