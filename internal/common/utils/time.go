package utils

import (
	"fmt"
	"time"
)

// TruncateToDay returns local midnight of the day containing t.
//
// The result is computed in loc, so that a gateway configured for a specific
// timezone resets daily budgets at that zone's midnight regardless of the
// host clock. A nil loc uses the location of t.
//
// Example: 2025-01-01 12:34:56 EST → 2025-01-01 00:00:00 EST
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextMidnight returns the start of the day after t in loc.
//
// Uses calendar arithmetic rather than adding 24 hours, so days shortened or
// lengthened by daylight saving transitions end at the correct instant.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	day := TruncateToDay(t, loc)
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

// StartOfMonth returns midnight of the first day of the month containing t in loc.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// FormatDuration renders d in the largest unit below it: "30s", "15m",
// "2.5h", "1.5d". Used for reset and block countdowns.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
