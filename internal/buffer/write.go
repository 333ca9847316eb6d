package buffer

import (
	"slices"

	"attendsync/internal/mirror"
	"attendsync/internal/streak"
)

// PendingWrite is one user's not-yet-persisted mirror change.
//
// StreakOps are replayed against the document read inside the flush
// transaction; StreakPatch is the preview the caller computed from the
// document it had, kept for reporting.
type PendingWrite struct {
	UserID      string
	Summary     []mirror.CourseEntry
	AmplixDelta int
	StreakOps   []streak.Op
	StreakPatch *streak.Patch
	Urgent      bool
}

func (w PendingWrite) isEmpty() bool {
	return w.Summary == nil && w.AmplixDelta == 0 && len(w.StreakOps) == 0
}

// Merge folds newer into older: deltas add up, the newest summary and streak
// preview win, streak ops keep their order and urgency is sticky.
func Merge(older, newer PendingWrite) PendingWrite {
	out := PendingWrite{
		UserID:      newer.UserID,
		Summary:     older.Summary,
		AmplixDelta: older.AmplixDelta + newer.AmplixDelta,
		StreakPatch: older.StreakPatch,
		Urgent:      older.Urgent || newer.Urgent,
	}
	if out.UserID == "" {
		out.UserID = older.UserID
	}
	if newer.Summary != nil {
		out.Summary = newer.Summary
	}
	if newer.StreakPatch != nil {
		out.StreakPatch = newer.StreakPatch
	}
	if n := len(older.StreakOps) + len(newer.StreakOps); n > 0 {
		out.StreakOps = make([]streak.Op, 0, n)
		out.StreakOps = append(out.StreakOps, older.StreakOps...)
		out.StreakOps = append(out.StreakOps, newer.StreakOps...)
	}
	return out
}

// Apply writes w onto doc. It runs inside the mirror transaction, so doc is
// always the freshly read version.
func Apply(doc *mirror.Document, w PendingWrite) {
	if w.AmplixDelta != 0 {
		doc.SetBalance(doc.Balance().Add(w.AmplixDelta))
	}
	if len(w.StreakOps) > 0 {
		if rec, changed := streak.Replay(doc.StreakRecord(), w.StreakOps); changed {
			doc.SetStreakRecord(rec)
		}
	}
	if w.Summary != nil {
		doc.MergeCourses(slices.Clone(w.Summary))
	}
}
