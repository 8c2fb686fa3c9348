package database

import "time"

// TimeLayout is fixed-width so lexical order in TEXT columns matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// DateLayout stores calendar dates.
const DateLayout = "2006-01-02"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a timestamp written by FormatTime, falling back to RFC3339.
// Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if t, err := time.Parse(TimeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
