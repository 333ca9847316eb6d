package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attendsync/internal/backend"
	"attendsync/internal/buffer"
	"attendsync/internal/ledger"
	"attendsync/internal/metrics"
	"attendsync/internal/mirror"
	"attendsync/internal/streak"
)

// Backend is the authoritative store the orchestrator mutates and reads.
type Backend interface {
	CheckIn(ctx context.Context, req backend.CheckInRequest) (backend.CheckInResult, error)
	MarkAbsent(ctx context.Context, req backend.MarkAbsentRequest) (backend.MarkAbsentResult, error)
	CourseSummary(ctx context.Context, userID string) ([]backend.CourseSummary, error)
	EvaluateChallenges(ctx context.Context, req backend.EvaluateRequest) (backend.EvaluateResult, error)
}

type MirrorReader interface {
	Get(ctx context.Context, userID string) (mirror.Document, error)
}

// Writer is the buffered mirror writer.
type Writer interface {
	Enqueue(w buffer.PendingWrite)
	FlushNow(ctx context.Context, userID string) error
}

const (
	msgInProgress    = "Another action for this class is still in progress. Try again shortly."
	msgSourceFailed  = "Attendance could not be recorded. Nothing was changed."
	msgReadFailed    = "Attendance was recorded, but points and streak could not be refreshed yet. They will sync shortly."
	msgFlushFailed   = "Attendance was recorded, but saving points and streak failed. It will be retried automatically."
	msgSummaryFailed = "The attendance summary could not be loaded."
	warnEvaluation   = "Challenge progress could not be evaluated. No challenge points were deducted."
)

// Orchestrator runs check-in and mark-absent actions against the
// authoritative store and mirrors their effect into the user's document.
// At most one action per class ID runs at a time.
type Orchestrator struct {
	backend Backend
	mirror  MirrorReader
	writer  Writer
	loc     *time.Location
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds an orchestrator. loc is the zone streak days are counted in;
// nil means UTC.
func New(b Backend, m MirrorReader, w Writer, loc *time.Location) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		backend:  b,
		mirror:   m,
		writer:   w,
		loc:      loc,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// mutation is the normalized outcome of the source procedure.
type mutation struct {
	gained int
	lost   int
	op     *streak.Op
}

func (o *Orchestrator) CheckIn(ctx context.Context, req Request) (Result, error) {
	return o.run(ctx, ActionCheckIn, req, func(ctx context.Context, today streak.DayIndex) (mutation, error) {
		res, err := o.backend.CheckIn(ctx, backend.CheckInRequest{
			UserID:            req.UserID,
			ClassID:           req.ClassID,
			ClassStart:        req.ClassStart,
			EnrolledCourseIDs: req.EnrolledCourseIDs,
		})
		if err != nil {
			return mutation{}, err
		}
		m := mutation{gained: res.AmplixGained}
		if res.FullDayCompleted {
			m.op = &streak.Op{Kind: streak.OpAdd, Day: streak.ToDayIndex(req.ClassStart, o.loc), Today: today}
		}
		return m, nil
	})
}

// MarkAbsent records an absence. The class's day is retracted from the
// streak history; it never adds one. Without a class start time the streak
// is left alone.
func (o *Orchestrator) MarkAbsent(ctx context.Context, req Request) (Result, error) {
	return o.run(ctx, ActionMarkAbsent, req, func(ctx context.Context, today streak.DayIndex) (mutation, error) {
		res, err := o.backend.MarkAbsent(ctx, backend.MarkAbsentRequest{
			UserID:            req.UserID,
			ClassID:           req.ClassID,
			EnrolledCourseIDs: req.EnrolledCourseIDs,
		})
		if err != nil {
			return mutation{}, err
		}
		m := mutation{lost: res.AmplixLost}
		if req.ClassStart.IsZero() {
			log.Printf("[Sync] mark_absent %s/%s: no class start time, streak left unchanged\n", req.UserID, req.ClassID)
			return m, nil
		}
		m.op = &streak.Op{Kind: streak.OpRemove, Day: streak.ToDayIndex(req.ClassStart, o.loc), Today: today}
		return m, nil
	})
}

// Resync copies the authoritative course summary into the mirror and drains
// anything still buffered for the user.
func (o *Orchestrator) Resync(ctx context.Context, userID string) (Result, error) {
	started := time.Now()
	res := Result{ActionID: uuid.New(), Action: ActionResync, UserID: userID}
	if userID == "" {
		res.Outcome = OutcomeFailure
		res.Message = "missing user"
		return o.settle(res, started, fmt.Errorf("%w: missing user", ErrInvalidRequest))
	}

	summary, err := o.backend.CourseSummary(ctx, userID)
	if err != nil {
		return o.fail(res, started, &StepError{Kind: KindSummaryRead, Err: err}, msgSummaryFailed)
	}
	res.Summary = summary

	o.writer.Enqueue(buffer.PendingWrite{UserID: userID, Summary: toEntries(summary), Urgent: true})
	if err := o.writer.FlushNow(ctx, userID); err != nil {
		return o.fail(res, started, &StepError{Kind: KindFlush, Err: err}, msgFlushFailed)
	}
	res.Outcome = OutcomeSuccess
	return o.settle(res, started, nil)
}

// InFlight reports whether an action for classID has not settled yet.
func (o *Orchestrator) InFlight(classID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[classID]
	return ok
}

func (o *Orchestrator) run(ctx context.Context, action Action, req Request, mutate func(context.Context, streak.DayIndex) (mutation, error)) (Result, error) {
	started := time.Now()
	res := Result{ActionID: uuid.New(), Action: action, UserID: req.UserID, ClassID: req.ClassID}

	if err := req.validate(action); err != nil {
		res.Outcome = OutcomeFailure
		res.Message = err.Error()
		return o.settle(res, started, err)
	}
	if !o.acquire(req.ClassID) {
		res.Outcome = OutcomeRejected
		res.Message = msgInProgress
		return o.settle(res, started, ErrActionInProgress)
	}
	defer o.release(req.ClassID)

	today := streak.ToDayIndex(o.now(), o.loc)
	m, err := mutate(ctx, today)
	if err != nil {
		return o.fail(res, started, &StepError{Kind: KindSourceMutation, Err: err}, msgSourceFailed)
	}

	var ops []streak.Op
	if m.op != nil {
		ops = []streak.Op{*m.op}
	}

	doc, summary, err := o.read(ctx, req.UserID)
	if err != nil {
		// The source already changed, so the mutation's own delta still has
		// to reach the mirror. The background flusher picks it up.
		res.AmplixDelta = ledger.ComputeDelta(ledger.DeltaInput{Gained: m.gained, Lost: m.lost})
		o.writer.Enqueue(buffer.PendingWrite{UserID: req.UserID, AmplixDelta: res.AmplixDelta, StreakOps: ops})
		return o.fail(res, started, err, msgReadFailed)
	}
	res.Summary = summary

	rec := doc.StreakRecord()
	if m.op != nil {
		if p := m.op.Patch(rec); !p.IsEmpty() {
			res.Streak = &p
			rec = rec.Apply(p)
		}
	}

	deduction := 0
	if ids := doc.ProgressIDs(); len(ids) > 0 && len(summary) > 0 {
		ev, err := o.backend.EvaluateChallenges(ctx, backend.EvaluateRequest{
			UserID:        req.UserID,
			ProgressIDs:   ids,
			CurrentStreak: rec.CurrentStreak,
			CourseIDs:     touchedCourses(req.EnrolledCourseIDs, summary),
		})
		if err != nil {
			log.Printf("[Sync] %s %s/%s: %v\n", action, req.UserID, req.ClassID, &StepError{Kind: KindSideEffect, Err: err})
			res.Warnings = append(res.Warnings, warnEvaluation)
		} else {
			deduction = ev.PointsToDeduct
		}
	}

	res.AmplixDelta = ledger.ComputeDelta(ledger.DeltaInput{
		Gained:             m.gained,
		Lost:               m.lost,
		ChallengeDeduction: deduction,
	})

	o.writer.Enqueue(buffer.PendingWrite{
		UserID:      req.UserID,
		Summary:     toEntries(summary),
		AmplixDelta: res.AmplixDelta,
		StreakOps:   ops,
		StreakPatch: res.Streak,
		Urgent:      true,
	})
	if err := o.writer.FlushNow(ctx, req.UserID); err != nil {
		return o.fail(res, started, &StepError{Kind: KindFlush, Err: err}, msgFlushFailed)
	}

	if len(res.Warnings) > 0 {
		res.Outcome = OutcomeWarning
		res.Message = res.Warnings[0]
	} else {
		res.Outcome = OutcomeSuccess
	}
	return o.settle(res, started, nil)
}

func (o *Orchestrator) read(ctx context.Context, userID string) (mirror.Document, []backend.CourseSummary, error) {
	var (
		doc     mirror.Document
		summary []backend.CourseSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := o.mirror.Get(gctx, userID)
		if err != nil {
			return &StepError{Kind: KindMirrorRead, Err: err}
		}
		doc = d
		return nil
	})
	g.Go(func() error {
		s, err := o.backend.CourseSummary(gctx, userID)
		if err != nil {
			return &StepError{Kind: KindSummaryRead, Err: err}
		}
		summary = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return mirror.Document{}, nil, err
	}
	return doc, summary, nil
}

func (o *Orchestrator) fail(res Result, started time.Time, err error, msg string) (Result, error) {
	res.Outcome = OutcomeFailure
	res.Message = msg
	log.Printf("[Sync] %s %s/%s failed: %v\n", res.Action, res.UserID, res.ClassID, err)
	return o.settle(res, started, err)
}

func (o *Orchestrator) settle(res Result, started time.Time, err error) (Result, error) {
	metrics.ActionsTotal.WithLabelValues(string(res.Action), string(res.Outcome)).Inc()
	metrics.ActionDuration.WithLabelValues(string(res.Action)).Observe(time.Since(started).Seconds())
	return res, err
}

func (o *Orchestrator) acquire(classID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[classID]; busy {
		return false
	}
	o.inFlight[classID] = struct{}{}
	return true
}

func (o *Orchestrator) release(classID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, classID)
}

// validate checks the fields action needs. Only a check-in has to know the
// class start, since that is the day its streak credit lands on.
func (r Request) validate(action Action) error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case r.ClassID == "":
		return fmt.Errorf("%w: missing class", ErrInvalidRequest)
	case action == ActionCheckIn && r.ClassStart.IsZero():
		return fmt.Errorf("%w: missing class start time", ErrInvalidRequest)
	}
	return nil
}

// touchedCourses is the distinct enrolled course IDs, or the summary's
// courses when the caller sent none.
func touchedCourses(enrolled []string, summary []backend.CourseSummary) []string {
	var ids []string
	for _, id := range enrolled {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	for _, s := range summary {
		if !slices.Contains(ids, s.CourseID) {
			ids = append(ids, s.CourseID)
		}
	}
	return ids
}

func toEntries(summary []backend.CourseSummary) []mirror.CourseEntry {
	out := make([]mirror.CourseEntry, 0, len(summary))
	for _, s := range summary {
		e := mirror.CourseEntry{
			CourseID:        s.CourseID,
			AttendedClasses: s.AttendedClasses,
			TotalClasses:    s.TotalClasses,
		}
		if raw, err := json.Marshal(s.Percentage); err == nil {
			e.Extra = map[string]json.RawMessage{"percentage": raw}
		}
		out = append(out, e)
	}
	return out
}
