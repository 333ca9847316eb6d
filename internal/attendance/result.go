package attendance

import (
	"time"

	"github.com/google/uuid"

	"attendsync/internal/backend"
	"attendsync/internal/streak"
)

type Action string

const (
	ActionCheckIn    Action = "check_in"
	ActionMarkAbsent Action = "mark_absent"
	ActionResync     Action = "resync"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "success_with_warning"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

// Request identifies one attendance action. ClassStart is the scheduled start
// of the class; its civil day is the streak day the action affects.
type Request struct {
	UserID            string
	ClassID           string
	ClassStart        time.Time
	EnrolledCourseIDs []string
}

// Result is what an action settled as. Warnings carry non-fatal step
// failures; Message is a human-readable line for the failure or warning.
type Result struct {
	ActionID    uuid.UUID               `json:"actionID"`
	Action      Action                  `json:"action"`
	UserID      string                  `json:"userID"`
	ClassID     string                  `json:"classID,omitempty"`
	Outcome     Outcome                 `json:"outcome"`
	AmplixDelta int                     `json:"amplixDelta"`
	Streak      *streak.Patch           `json:"streak,omitempty"`
	Summary     []backend.CourseSummary `json:"summary,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeWarning
}
