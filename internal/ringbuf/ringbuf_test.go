package ringbuf

import (
	"testing"
	"time"

	"momentum-botv1/internal/model"
)

func TestRing_PushAndOrder(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	r.Push(2)

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}
	got := r.Slice()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected slice %v", got)
	}
	if last, ok := r.Last(); !ok || last != 2 {
		t.Fatalf("expected last=2, got %d ok=%v", last, ok)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3) // storage rounds to 4, logical cap stays 3

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Fatalf("expected len=3 cap=3, got len=%d cap=%d", r.Len(), r.Cap())
	}
	got := r.Slice()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if r.At(0) != 3 {
		t.Errorf("At(0): expected 3, got %d", r.At(0))
	}
	if r.Evicted() != 2 {
		t.Errorf("expected evicted=2, got %d", r.Evicted())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New[model.Candle](4)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		r.Push(model.Candle{TS: base.Add(time.Duration(i) * time.Minute)})
		c, _ := r.Last()
		if !c.TS.Equal(base.Add(time.Duration(i) * time.Minute)) {
			t.Fatalf("push %d: last has ts %v", i, c.TS)
		}
	}
	got := r.Slice()
	for i := 1; i < len(got); i++ {
		if !got[i].TS.After(got[i-1].TS) {
			t.Fatalf("slice out of order at %d", i)
		}
	}
}

func TestRing_Empty(t *testing.T) {
	r := New[int](0)
	if _, ok := r.Last(); ok {
		t.Fatal("last on empty ring should return false")
	}
	if r.Cap() != 1 {
		t.Errorf("expected minimum cap=1, got %d", r.Cap())
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
