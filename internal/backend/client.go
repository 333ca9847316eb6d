package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ProcCheckIn            = "check_in"
	ProcMarkAbsent         = "mark_absent"
	ProcCourseSummary      = "get_course_attendance_summary"
	ProcEvaluateChallenges = "evaluate_challenges"
	ProcListClasses        = "list_classes"
)

const statusError = "error"

var (
	// ErrApplicationStatus marks a response that arrived but carried status "error".
	ErrApplicationStatus = errors.New("procedure returned error status")
	// ErrTransport marks network failures, timeouts and non-2xx responses.
	ErrTransport = errors.New("procedure call failed")
	// ErrMalformedResponse marks a response body that could not be normalized.
	ErrMalformedResponse = errors.New("malformed procedure response")
)

type ProcedureError struct {
	Procedure  string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *ProcedureError) Error() string {
	var b strings.Builder
	b.WriteString(e.Procedure)
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.HTTPStatus)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProcedureError) Unwrap() error { return e.Err }

// Client calls the authoritative store's remote procedures over HTTP. Each
// procedure is a POST to {baseURL}/rpc/{name} with a JSON object body.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, apiKey, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL, apiKey string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
	}
}

func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	f, err := c.callObject(ctx, ProcCheckIn, map[string]any{
		"user_id":             req.UserID,
		"class_id":            req.ClassID,
		"class_start_time":    req.ClassStart.UTC().Format(time.RFC3339),
		"enrolled_course_ids": nonNil(req.EnrolledCourseIDs),
	})
	if err != nil {
		return CheckInResult{}, err
	}

	var res CheckInResult
	var errs []error
	res.AmplixGained, err = f.Int("amplix_gained")
	errs = append(errs, err)
	res.AttendedClasses, err = f.Int("attended_classes")
	errs = append(errs, err)
	res.TotalClasses, err = f.Int("total_classes")
	errs = append(errs, err)
	res.FullDayCompleted = f.Bool("full_day_completed")
	if err := malformed(ProcCheckIn, errors.Join(errs...)); err != nil {
		return CheckInResult{}, err
	}
	return res, nil
}

func (c *Client) MarkAbsent(ctx context.Context, req MarkAbsentRequest) (MarkAbsentResult, error) {
	f, err := c.callObject(ctx, ProcMarkAbsent, map[string]any{
		"user_id":             req.UserID,
		"class_id":            req.ClassID,
		"enrolled_course_ids": nonNil(req.EnrolledCourseIDs),
	})
	if err != nil {
		return MarkAbsentResult{}, err
	}

	var res MarkAbsentResult
	var errs []error
	res.AmplixLost, err = f.Int("amplix_lost")
	errs = append(errs, err)
	res.AttendedClassesAfter, err = f.Int("attended_classes_after")
	errs = append(errs, err)
	if err := malformed(ProcMarkAbsent, errors.Join(errs...)); err != nil {
		return MarkAbsentResult{}, err
	}
	return res, nil
}

func (c *Client) CourseSummary(ctx context.Context, userID string) ([]CourseSummary, error) {
	rows, err := c.callList(ctx, ProcCourseSummary, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}

	out := make([]CourseSummary, 0, len(rows))
	for _, f := range rows {
		var s CourseSummary
		var errs []error
		s.CourseID, _ = f.String("course_id")
		s.AttendedClasses, err = f.Int("attended_classes")
		errs = append(errs, err)
		s.TotalClasses, err = f.Int("total_classes")
		errs = append(errs, err)
		s.Percentage, err = f.Float("percentage")
		errs = append(errs, err)
		if err := malformed(ProcCourseSummary, errors.Join(errs...)); err != nil {
			return nil, err
		}
		if s.CourseID == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) EvaluateChallenges(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	f, err := c.callObject(ctx, ProcEvaluateChallenges, map[string]any{
		"user_id":        req.UserID,
		"progress_ids":   nonNil(req.ProgressIDs),
		"current_streak": req.CurrentStreak,
		"course_ids":     nonNil(req.CourseIDs),
	})
	if err != nil {
		return EvaluateResult{}, err
	}

	var res EvaluateResult
	var errs []error
	res.PointsToDeduct, err = f.Int("points_to_deduct")
	errs = append(errs, err)
	res.ClaimableChallenges, err = f.Int("claimable_challenges_count")
	errs = append(errs, err)
	if err := malformed(ProcEvaluateChallenges, errors.Join(errs...)); err != nil {
		return EvaluateResult{}, err
	}
	return res, nil
}

// ListClasses returns the user's scheduled classes for the civil day of day.
func (c *Client) ListClasses(ctx context.Context, userID string, day time.Time) ([]ClassSession, error) {
	rows, err := c.callList(ctx, ProcListClasses, map[string]any{
		"user_id": userID,
		"day":     day.Format(time.DateOnly),
	})
	if err != nil {
		return nil, err
	}

	out := make([]ClassSession, 0, len(rows))
	for _, f := range rows {
		var s ClassSession
		s.ClassID, _ = f.String("class_id", "id")
		s.CourseID, _ = f.String("course_id")
		s.Title, _ = f.String("title", "course_name")
		s.Cancelled = f.Bool("cancelled", "is_cancelled")
		if status, ok := f.String("status", "attendance_status"); ok {
			s.Status = AttendanceStatus(strings.ToLower(status))
		} else if f.Bool("attended", "present") {
			s.Status = StatusPresent
		} else {
			s.Status = StatusPending
		}
		var perr error
		if s.StartTime, perr = timeField(f, "start_time"); perr != nil {
			return nil, malformed(ProcListClasses, perr)
		}
		if s.EndTime, perr = timeField(f, "end_time"); perr != nil {
			return nil, malformed(ProcListClasses, perr)
		}
		if s.ClassID == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func timeField(f fields, key string) (time.Time, error) {
	s, ok := f.String(key)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

func (c *Client) callObject(ctx context.Context, proc string, params map[string]any) (fields, error) {
	body, err := c.call(ctx, proc, params)
	if err != nil {
		return nil, err
	}
	f, err := decodeObject(body)
	if err != nil {
		return nil, malformed(proc, err)
	}
	if err := statusCheck(proc, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) callList(ctx context.Context, proc string, params map[string]any) ([]fields, error) {
	body, err := c.call(ctx, proc, params)
	if err != nil {
		return nil, err
	}
	rows, err := decodeList(body)
	if err != nil {
		return nil, malformed(proc, err)
	}
	for _, f := range rows {
		if err := statusCheck(proc, f); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (c *Client) call(ctx context.Context, proc string, params map[string]any) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", proc, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+proc, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", proc, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProcedureError{Procedure: proc, Message: err.Error(), Err: ErrTransport}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProcedureError{Procedure: proc, HTTPStatus: resp.StatusCode, Message: err.Error(), Err: ErrTransport}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if f, err := decodeObject(body); err == nil {
			if m, ok := f.String("message", "error"); ok {
				msg = m
			}
		}
		return nil, &ProcedureError{Procedure: proc, HTTPStatus: resp.StatusCode, Message: msg, Err: ErrTransport}
	}
	return body, nil
}

func statusCheck(proc string, f fields) error {
	status, _ := f.String("status")
	if !strings.EqualFold(status, statusError) {
		return nil
	}
	msg, _ := f.String("message", "error", "detail")
	return &ProcedureError{Procedure: proc, Message: msg, Err: ErrApplicationStatus}
}

func malformed(proc string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcedureError{Procedure: proc, Message: err.Error(), Err: ErrMalformedResponse}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
