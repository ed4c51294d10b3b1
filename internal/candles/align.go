package candles

import (
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

const day = 24 * time.Hour

// Align returns the start of the bucket containing t.
//
// Sub-day intervals truncate on the interval length. Daily intervals start
// at midnight in the zone UTC+dayOffset, weekly intervals on the Monday of
// that week. The result is always in UTC.
func Align(t time.Time, iv model.Interval, dayOffset time.Duration) time.Time {
	d := iv.Duration()
	if d <= 0 {
		return t.UTC()
	}
	if !iv.Daily() {
		return t.UTC().Truncate(d)
	}

	local := t.UTC().Add(dayOffset)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	if d >= 7*day {
		back := (int(start.Weekday()) + 6) % 7 // days since Monday
		start = start.AddDate(0, 0, -back)
	}
	return start.Add(-dayOffset)
}

// StartOfDay returns midnight of t's day in the zone UTC+dayOffset, in UTC.
func StartOfDay(t time.Time, dayOffset time.Duration) time.Time {
	return Align(t, model.Interval1d, dayOffset)
}
