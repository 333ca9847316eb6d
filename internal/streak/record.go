package streak

import "slices"

// Record is a user's streak state as persisted in the mirror document.
// Days is sorted ascending without duplicates.
type Record struct {
	Days          []DayIndex
	CurrentStreak int
	LongestStreak int
}

// Patch lists only the fields an operation changed. A nil pointer or a false
// DaysChanged leaves the stored value alone.
type Patch struct {
	DaysChanged   bool       `json:"daysChanged,omitempty"`
	Days          []DayIndex `json:"days,omitempty"`
	CurrentStreak *int       `json:"currentStreak,omitempty"`
	LongestStreak *int       `json:"longestStreak,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return !p.DaysChanged && p.CurrentStreak == nil && p.LongestStreak == nil
}

// Apply returns a copy of r with the patch fields written over it.
func (r Record) Apply(p Patch) Record {
	out := Record{
		Days:          slices.Clone(r.Days),
		CurrentStreak: r.CurrentStreak,
		LongestStreak: r.LongestStreak,
	}
	if p.DaysChanged {
		out.Days = slices.Clone(p.Days)
		if out.Days == nil {
			out.Days = []DayIndex{}
		}
	}
	if p.CurrentStreak != nil {
		out.CurrentStreak = *p.CurrentStreak
	}
	if p.LongestStreak != nil {
		out.LongestStreak = *p.LongestStreak
	}
	return out
}

// ApplyAddition records day as a completed day.
func ApplyAddition(r Record, day, today DayIndex) Patch {
	if day > today {
		return Patch{}
	}

	if Contains(r.Days, day) {
		if day == today {
			return Patch{}
		}
		// Already counted; a back-filled day can only reveal a longer
		// historical run than the one stored.
		historical := runEndingAt(r.Days, InsertionIndex(r.Days, day))
		if historical > r.LongestStreak {
			return Patch{LongestStreak: intPtr(historical)}
		}
		return Patch{}
	}

	days := slices.Insert(slices.Clone(r.Days), InsertionIndex(r.Days, day), day)
	p := Patch{DaysChanged: true, Days: days}

	if current := CurrentStreak(days, today); current != r.CurrentStreak {
		p.CurrentStreak = intPtr(current)
	}
	if longest := LongestStreak(days); longest > r.LongestStreak {
		p.LongestStreak = intPtr(longest)
	}
	return p
}

// ApplyRemoval retracts day. The stored longest streak is never lowered.
func ApplyRemoval(r Record, day, today DayIndex) Patch {
	i, found := slices.BinarySearch(r.Days, day)
	if !found {
		return Patch{}
	}

	days := slices.Delete(slices.Clone(r.Days), i, i+1)
	if len(days) == 0 {
		return Patch{DaysChanged: true, Days: []DayIndex{}, CurrentStreak: intPtr(0)}
	}

	p := Patch{
		DaysChanged:   true,
		Days:          days,
		CurrentStreak: intPtr(CurrentStreak(days, today)),
	}
	if longest := LongestStreak(days); longest > r.LongestStreak {
		p.LongestStreak = intPtr(longest)
	}
	return p
}

func intPtr(v int) *int { return &v }
