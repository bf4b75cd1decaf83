package quota

import "time"

// DayWindow returns the UTC calendar day containing ts as a half-open
// interval [start, end). All daily counting uses this window regardless of
// the caller's local timezone.
func DayWindow(ts time.Time) (time.Time, time.Time) {
	t := ts.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
