// Package bucket rounds timestamps down to fixed-width interval boundaries.
// Rating history rows are keyed by bucket start, so a second sample observed
// within the same bucket overwrites the first instead of duplicating it.
package bucket

import "time"

// Floor returns the epoch-millisecond start of the intervalMin-wide minute
// bucket containing tsMillis. Seconds and subseconds are zeroed, minutes are
// floored to the nearest interval boundary, all in UTC.
func Floor(tsMillis int64, intervalMin int) int64 {
	t := time.UnixMilli(tsMillis).UTC()
	m := t.Minute() - t.Minute()%intervalMin
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, time.UTC).UnixMilli()
}
