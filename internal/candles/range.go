package candles

import (
	"fmt"
	"strings"
	"time"
)

// Range is a display range selecting how far back a bootstrap loads.
type Range string

const (
	Range1D  Range = "1D"
	Range1W  Range = "1W"
	Range1M  Range = "1M"
	Range3M  Range = "3M"
	Range1Y  Range = "1Y"
	RangeAll Range = "ALL"
)

// ParseRange parses a range name case-insensitively.
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case Range1D, Range1W, Range1M, Range3M, Range1Y, RangeAll:
		return r, nil
	}
	return "", fmt.Errorf("unknown range %q", s)
}

// Start returns the first instant covered by r at time now. ok is false
// for RangeAll, which has no lower bound.
func (r Range) Start(now time.Time, dayOffset time.Duration) (start time.Time, ok bool) {
	switch r {
	case Range1D:
		return StartOfDay(now, dayOffset), true
	case Range1W:
		return now.UTC().AddDate(0, 0, -7), true
	case Range1M:
		return now.UTC().AddDate(0, -1, 0), true
	case Range3M:
		return now.UTC().AddDate(0, -3, 0), true
	case Range1Y:
		return now.UTC().AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}
