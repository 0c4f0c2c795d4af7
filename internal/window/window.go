package window

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates throughout the engine.
const DateLayout = "2006-01-02"

// Range is an inclusive span of calendar dates. Both endpoints are stored
// as UTC midnight; the time-of-day component is always zero.
type Range struct {
	Since time.Time
	Until time.Time
}

// NewRange builds a Range from two dates, truncating any time-of-day component.
// Returns an error when since is after until.
func NewRange(since, until time.Time) (Range, error) {
	r := Range{Since: Truncate(since), Until: Truncate(until)}
	if r.Since.After(r.Until) {
		return Range{}, fmt.Errorf("invalid range: since %s is after until %s",
			r.Since.Format(DateLayout), r.Until.Format(DateLayout))
	}
	return r, nil
}

// ParseRange parses a range from two YYYY-MM-DD strings.
func ParseRange(since, until string) (Range, error) {
	s, err := ParseDate(since)
	if err != nil {
		return Range{}, err
	}
	u, err := ParseDate(until)
	if err != nil {
		return Range{}, err
	}
	return NewRange(s, u)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Truncate drops the time-of-day component, normalizing to UTC midnight.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Days returns the number of calendar days the range covers, inclusive.
func (r Range) Days() int {
	return int(r.Until.Sub(r.Since).Hours()/24) + 1
}

// Contains reports whether d falls within the range.
func (r Range) Contains(d time.Time) bool {
	d = Truncate(d)
	return !d.Before(r.Since) && !d.After(r.Until)
}

// String renders the range as "since..until".
func (r Range) String() string {
	return r.Since.Format(DateLayout) + ".." + r.Until.Format(DateLayout)
}

// Split divides a range into ordered, contiguous, non-overlapping sub-ranges
// of at most batchDays days each. The union of the output equals the input
// exactly; only the final batch may be shorter than batchDays. An inverted
// range yields nil.
func Split(r Range, batchDays int) []Range {
	if batchDays <= 0 || r.Since.After(r.Until) {
		return nil
	}

	var batches []Range
	cursor := r.Since
	for !cursor.After(r.Until) {
		end := cursor.AddDate(0, 0, batchDays-1)
		if end.After(r.Until) {
			end = r.Until
		}
		batches = append(batches, Range{Since: cursor, Until: end})
		cursor = end.AddDate(0, 0, 1)
	}

	return batches
}

// MonthRange returns the range covering one calendar month. When the month is
// the current month (relative to now), the range is clamped to today so the
// engine never requests future dates from the upstream.
func MonthRange(year int, month time.Month, now time.Time) Range {
	since := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 1, -1)

	today := Truncate(now)
	if until.After(today) {
		until = today
	}
	return Range{Since: since, Until: until}
}

// NextMonth returns the calendar month following (year, month).
func NextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
