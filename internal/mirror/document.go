package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"attendsync/internal/ledger"
	"attendsync/internal/streak"
)

// Document is the per-user mirror document. Only the fields this service
// reads or writes are modelled.
type Document struct {
	UserID                  string               `json:"userID,omitempty"`
	Amplix                  int                  `json:"amplix"`
	CurrentWeekAmplixGained int                  `json:"currentWeekAmplixGained"`
	CoursesEnrolled         []CourseEntry        `json:"coursesEnrolled"`
	CurrentStreak           int                  `json:"currentStreak"`
	LongestStreak           int                  `json:"longestStreak"`
	StreakHistory           History              `json:"streakHistory"`
	ChallengesAllotted      []ChallengeAllotment `json:"challengesAllotted,omitempty"`
}

type ChallengeAllotment struct {
	ChallengeID string `json:"challengeID,omitempty"`
	ProgressID  string `json:"progressID,omitempty"`
}

// CourseEntry is one element of coursesEnrolled. Keys other than the three
// counters are kept verbatim in Extra so a merge never drops them.
type CourseEntry struct {
	CourseID        string
	AttendedClasses int
	TotalClasses    int
	Extra           map[string]json.RawMessage
}

const (
	keyCourseID        = "courseID"
	keyAttendedClasses = "attendedClasses"
	keyTotalClasses    = "totalClasses"
)

func (c CourseEntry) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		m[k] = v
	}
	m[keyCourseID] = c.CourseID
	m[keyAttendedClasses] = c.AttendedClasses
	m[keyTotalClasses] = c.TotalClasses
	return json.Marshal(m)
}

func (c *CourseEntry) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decoding course entry: %w", err)
	}
	*c = CourseEntry{}
	if v, ok := raw[keyCourseID]; ok {
		if err := json.Unmarshal(v, &c.CourseID); err != nil {
			return fmt.Errorf("decoding courseID: %w", err)
		}
		delete(raw, keyCourseID)
	}
	if v, ok := raw[keyAttendedClasses]; ok {
		n, err := parseLooseInt(v)
		if err != nil {
			return fmt.Errorf("decoding attendedClasses: %w", err)
		}
		c.AttendedClasses = int(n)
		delete(raw, keyAttendedClasses)
	}
	if v, ok := raw[keyTotalClasses]; ok {
		n, err := parseLooseInt(v)
		if err != nil {
			return fmt.Errorf("decoding totalClasses: %w", err)
		}
		c.TotalClasses = int(n)
		delete(raw, keyTotalClasses)
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// History is the streakHistory field. Older writers stored days as strings,
// so decoding accepts either form and skips entries it cannot read. It is
// always written back as a sorted integer array.
type History []streak.DayIndex

func (h History) MarshalJSON() ([]byte, error) {
	days := streak.Normalize(h)
	if days == nil {
		days = []streak.DayIndex{}
	}
	return json.Marshal([]streak.DayIndex(days))
}

func (h *History) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*h = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decoding streakHistory: %w", err)
	}
	days := make([]streak.DayIndex, 0, len(raw))
	for _, v := range raw {
		n, err := parseLooseInt(v)
		if err != nil {
			continue
		}
		days = append(days, streak.DayIndex(n))
	}
	*h = History(streak.Normalize(days))
	return nil
}

// parseLooseInt reads a JSON number or a numeric string holding an integer.
func parseLooseInt(v json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(v))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

func (d Document) StreakRecord() streak.Record {
	return streak.Record{
		Days:          slices.Clone([]streak.DayIndex(d.StreakHistory)),
		CurrentStreak: d.CurrentStreak,
		LongestStreak: d.LongestStreak,
	}
}

func (d *Document) SetStreakRecord(r streak.Record) {
	d.StreakHistory = History(slices.Clone(r.Days))
	d.CurrentStreak = r.CurrentStreak
	d.LongestStreak = r.LongestStreak
}

func (d Document) Balance() ledger.Balance {
	return ledger.Balance{Amplix: d.Amplix, CurrentWeekAmplixGained: d.CurrentWeekAmplixGained}
}

func (d *Document) SetBalance(b ledger.Balance) {
	d.Amplix = b.Amplix
	d.CurrentWeekAmplixGained = b.CurrentWeekAmplixGained
}

// ProgressIDs returns the distinct non-empty challenge progress identifiers.
func (d Document) ProgressIDs() []string {
	var ids []string
	for _, c := range d.ChallengesAllotted {
		if c.ProgressID == "" || slices.Contains(ids, c.ProgressID) {
			continue
		}
		ids = append(ids, c.ProgressID)
	}
	return ids
}

// MergeCourses updates entries in place by course ID and appends unknown
// courses. Extra keys from both sides survive, incoming ones winning.
func (d *Document) MergeCourses(incoming []CourseEntry) {
	for _, in := range incoming {
		i := slices.IndexFunc(d.CoursesEnrolled, func(c CourseEntry) bool { return c.CourseID == in.CourseID })
		if i < 0 {
			d.CoursesEnrolled = append(d.CoursesEnrolled, in.clone())
			continue
		}
		cur := &d.CoursesEnrolled[i]
		cur.AttendedClasses = in.AttendedClasses
		cur.TotalClasses = in.TotalClasses
		if len(in.Extra) > 0 {
			if cur.Extra == nil {
				cur.Extra = make(map[string]json.RawMessage, len(in.Extra))
			}
			maps.Copy(cur.Extra, in.Extra)
		}
	}
}

func (c CourseEntry) clone() CourseEntry {
	c.Extra = maps.Clone(c.Extra)
	return c
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.StreakHistory = slices.Clone(d.StreakHistory)
	out.ChallengesAllotted = slices.Clone(d.ChallengesAllotted)
	if d.CoursesEnrolled != nil {
		out.CoursesEnrolled = make([]CourseEntry, len(d.CoursesEnrolled))
		for i, c := range d.CoursesEnrolled {
			out.CoursesEnrolled[i] = c.clone()
		}
	}
	return out
}
