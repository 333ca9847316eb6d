package streak

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestToDayIndex_SameCivilDay(t *testing.T) {
	loc := mustLoad(t, "America/New_York")

	morning := time.Date(2024, 3, 10, 0, 5, 0, 0, loc)
	night := time.Date(2024, 3, 10, 23, 55, 0, 0, loc)

	assert.Equal(t, ToDayIndex(morning, loc), ToDayIndex(night, loc))
	assert.Equal(t, ToDayIndex(morning, loc)+1, ToDayIndex(night.Add(10*time.Minute), loc))
}

func TestToDayIndex_ZoneMatters(t *testing.T) {
	kolkata := mustLoad(t, "Asia/Kolkata")
	instant := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC) // 01:30 on Jan 2 in Kolkata

	assert.Equal(t, ToDayIndex(instant, time.UTC)+1, ToDayIndex(instant, kolkata))
}

func TestToDayIndex_Epoch(t *testing.T) {
	assert.Equal(t, DayIndex(0), ToDayIndex(time.Unix(0, 0), time.UTC))
	assert.Equal(t, DayIndex(1), ToDayIndex(time.Unix(secondsPerDay, 0), nil))
	assert.Equal(t, time.Unix(0, 0).UTC(), DayIndex(0).Time())
}

func TestContainsAndInsertionIndex_MatchLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		raw := make([]DayIndex, rng.Intn(20))
		for i := range raw {
			raw[i] = DayIndex(rng.Intn(40))
		}
		days := Normalize(raw)

		for probe := DayIndex(-2); probe < 45; probe++ {
			wantContains := false
			wantIndex := len(days)
			for i, d := range days {
				if d == probe {
					wantContains = true
				}
				if d >= probe && i < wantIndex {
					wantIndex = i
				}
			}
			assert.Equal(t, wantContains, Contains(days, probe), "Contains(%v, %d)", days, probe)
			assert.Equal(t, wantIndex, InsertionIndex(days, probe), "InsertionIndex(%v, %d)", days, probe)
		}
	}
}

func TestCurrentStreak(t *testing.T) {
	tests := []struct {
		name  string
		days  []DayIndex
		today DayIndex
		want  int
	}{
		{"empty", nil, 10, 0},
		{"ends today", []DayIndex{8, 9, 10}, 10, 3},
		{"ends yesterday", []DayIndex{7, 8, 9}, 10, 3},
		{"broken", []DayIndex{7, 8}, 10, 0},
		{"gap stops walk", []DayIndex{3, 4, 6, 7}, 7, 2},
		{"only today", []DayIndex{10}, 10, 1},
		{"future day ignored", []DayIndex{11}, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CurrentStreak(tt.days, tt.today))
		})
	}
}

func TestLongestStreak(t *testing.T) {
	assert.Equal(t, 0, LongestStreak(nil))
	assert.Equal(t, 1, LongestStreak([]DayIndex{5}))
	assert.Equal(t, 3, LongestStreak([]DayIndex{1, 2, 3, 7, 8}))
	assert.Equal(t, 4, LongestStreak([]DayIndex{1, 3, 4, 5, 6, 9}))
}

func TestLongestAtLeastCurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 500; iter++ {
		raw := make([]DayIndex, 1+rng.Intn(15))
		for i := range raw {
			raw[i] = DayIndex(rng.Intn(30))
		}
		days := Normalize(raw)
		today := DayIndex(rng.Intn(32))
		assert.GreaterOrEqual(t, LongestStreak(days), CurrentStreak(days, today), "days=%v today=%d", days, today)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []DayIndex{1, 2, 5}, Normalize([]DayIndex{5, 1, 2, 5, 1}))
	assert.Empty(t, Normalize(nil))
}
