package streak

import (
	"slices"
	"time"
)

// DayIndex counts civil days since 1970-01-01 in the canonical zone.
type DayIndex int64

const secondsPerDay = 24 * 60 * 60

// ToDayIndex maps an instant to the civil day it falls on in loc.
func ToDayIndex(t time.Time, loc *time.Location) DayIndex {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	// Rebuilding the date in UTC keeps DST shifts out of the division.
	return DayIndex(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay)
}

// Time returns midnight UTC of the day, mostly useful for logging.
func (d DayIndex) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func Contains(days []DayIndex, day DayIndex) bool {
	_, found := slices.BinarySearch(days, day)
	return found
}

// InsertionIndex returns where day belongs in days to keep it sorted.
func InsertionIndex(days []DayIndex, day DayIndex) int {
	i, _ := slices.BinarySearch(days, day)
	return i
}

// CurrentStreak counts the run ending at today, or at yesterday when today
// has not been recorded yet. Any other gap means the streak is broken.
func CurrentStreak(days []DayIndex, today DayIndex) int {
	end, found := slices.BinarySearch(days, today)
	if !found {
		end, found = slices.BinarySearch(days, today-1)
		if !found {
			return 0
		}
	}
	return runEndingAt(days, end)
}

// runEndingAt walks backward from days[i] while the values stay consecutive.
func runEndingAt(days []DayIndex, i int) int {
	n := 1
	for ; i > 0 && days[i-1] == days[i]-1; i-- {
		n++
	}
	return n
}

func LongestStreak(days []DayIndex) int {
	if len(days) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i] == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// Normalize sorts days and drops duplicates, returning a new slice.
func Normalize(days []DayIndex) []DayIndex {
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}
