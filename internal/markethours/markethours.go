// Package markethours models sets of hours-of-day evaluated in a fixed zone.
package markethours

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultFavorable lists the UTC hours that historically carried the best
// BTC 15-minute win rates.
const DefaultFavorable = "22,6,5,1,17,0,21,16,8,10"

// Set is a set of hours (0-23) interpreted in a fixed location.
type Set struct {
	loc   *time.Location
	hours [24]bool
}

// Parse builds a Set from a comma-separated list such as "22,6,5".
// A nil loc means UTC.
func Parse(list string, loc *time.Location) (Set, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := Set{loc: loc}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil || h < 0 || h > 23 {
			return Set{}, fmt.Errorf("invalid hour %q", part)
		}
		s.hours[h] = true
	}
	return s, nil
}

// MustParse is Parse that panics on error. For constants and tests.
func MustParse(list string, loc *time.Location) Set {
	s, err := Parse(list, loc)
	if err != nil {
		panic(err)
	}
	return s
}

// Contains reports whether t falls in one of the hours of the set.
func (s Set) Contains(t time.Time) bool {
	loc := s.loc
	if loc == nil {
		loc = time.UTC
	}
	return s.hours[t.In(loc).Hour()]
}

// Hours returns the members in ascending order.
func (s Set) Hours() []int {
	var out []int
	for h, ok := range s.hours {
		if ok {
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// Len returns the number of hours in the set.
func (s Set) Len() int { return len(s.Hours()) }

func (s Set) String() string {
	parts := make([]string, 0, 24)
	for _, h := range s.Hours() {
		parts = append(parts, strconv.Itoa(h))
	}
	return strings.Join(parts, ",")
}

// NextChange returns the next instant after t where membership flips,
// looking ahead at most one day. Zero time when the set is empty or full.
func (s Set) NextChange(t time.Time) time.Time {
	loc := s.loc
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	cur := s.hours[local.Hour()]
	next := local.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24; i++ {
		if s.hours[next.Hour()] != cur {
			return next
		}
		next = next.Add(time.Hour)
	}
	return time.Time{}
}
