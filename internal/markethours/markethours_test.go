package markethours

import (
	"testing"
	"time"
)

func TestParse_DefaultFavorable(t *testing.T) {
	s, err := Parse(DefaultFavorable, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Len() != 10 {
		t.Fatalf("expected 10 hours, got %d", s.Len())
	}
	if s.String() != "0,1,5,6,8,10,16,17,21,22" {
		t.Errorf("unexpected order %q", s.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"24", "-1", "x", "1,,25"} {
		if _, err := Parse(in, nil); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestContains_UsesFixedZone(t *testing.T) {
	s := MustParse("22", time.UTC)
	if !s.Contains(time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)) {
		t.Error("22:30 UTC should be in set")
	}
	// 23:30 in UTC+1 is 22:30 UTC
	cet := time.FixedZone("CET", 3600)
	if !s.Contains(time.Date(2026, 3, 1, 23, 30, 0, 0, cet)) {
		t.Error("23:30 CET should map to 22 UTC")
	}
	if s.Contains(time.Date(2026, 3, 1, 21, 59, 0, 0, time.UTC)) {
		t.Error("21:59 UTC should not be in set")
	}
}

func TestNextChange(t *testing.T) {
	s := MustParse("5,6", time.UTC)
	now := time.Date(2026, 3, 1, 4, 10, 0, 0, time.UTC)
	if got := s.NextChange(now); !got.Equal(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 05:00, got %v", got)
	}
	now = time.Date(2026, 3, 1, 5, 10, 0, 0, time.UTC)
	if got := s.NextChange(now); !got.Equal(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 07:00, got %v", got)
	}
	if got := MustParse("", nil).NextChange(now); !got.IsZero() {
		t.Errorf("empty set should never change, got %v", got)
	}
}
