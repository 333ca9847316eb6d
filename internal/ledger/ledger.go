package ledger

// DeltaInput carries the point terms of one attendance action. Zero values
// stand in for absent terms.
type DeltaInput struct {
	Gained             int
	Lost               int
	ChallengeDeduction int
}

// ComputeDelta is the only place a net amplix change is derived.
func ComputeDelta(in DeltaInput) int {
	return (in.Gained - in.Lost) - in.ChallengeDeduction
}

// Balance is the amplix ledger kept on the mirror document.
type Balance struct {
	Amplix                  int
	CurrentWeekAmplixGained int
}

// Add returns the balance after delta. Balances only ever move by a delta.
func (b Balance) Add(delta int) Balance {
	return Balance{
		Amplix:                  b.Amplix + delta,
		CurrentWeekAmplixGained: b.CurrentWeekAmplixGained + delta,
	}
}
