package api

import (
	"sort"
	"time"
)

// SortAttemptsNewestFirst orders attempts by CreatedAt descending, breaking
// ties by attempt id.
func SortAttemptsNewestFirst(items []Attempt) []Attempt {
	if len(items) == 0 {
		return items
	}
	sorted := make([]Attempt, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := ParseTime(sorted[i].CreatedAt)
		tj := ParseTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].AttemptID > sorted[j].AttemptID
		}
		return ti.After(tj)
	})
	return sorted
}

// ParseTime reads an API timestamp. Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
