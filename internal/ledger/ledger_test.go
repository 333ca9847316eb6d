package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelta(t *testing.T) {
	tests := []struct {
		name string
		in   DeltaInput
		want int
	}{
		{"zero", DeltaInput{}, 0},
		{"gain only", DeltaInput{Gained: 10}, 10},
		{"gain with deduction", DeltaInput{Gained: 10, ChallengeDeduction: 3}, 7},
		{"loss", DeltaInput{Lost: 4}, -4},
		{"all terms", DeltaInput{Gained: 10, Lost: 2, ChallengeDeduction: 5}, 3},
		{"deduction past zero", DeltaInput{Gained: 1, ChallengeDeduction: 6}, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDelta(tt.in))
		})
	}
}

func TestComputeDelta_Linear(t *testing.T) {
	a := DeltaInput{Gained: 7, Lost: 2, ChallengeDeduction: 1}
	b := DeltaInput{Gained: 3, Lost: 5, ChallengeDeduction: 4}
	sum := DeltaInput{
		Gained:             a.Gained + b.Gained,
		Lost:               a.Lost + b.Lost,
		ChallengeDeduction: a.ChallengeDeduction + b.ChallengeDeduction,
	}

	assert.Equal(t, ComputeDelta(a)+ComputeDelta(b), ComputeDelta(sum))
	assert.Equal(t, ComputeDelta(DeltaInput{Gained: 5})+ComputeDelta(DeltaInput{Lost: 5}), 0)
}

func TestBalanceAdd(t *testing.T) {
	b := Balance{Amplix: 100, CurrentWeekAmplixGained: 20}

	got := b.Add(-30)

	assert.Equal(t, Balance{Amplix: 70, CurrentWeekAmplixGained: -10}, got)
	assert.Equal(t, 100, b.Amplix, "receiver is a value")
}
