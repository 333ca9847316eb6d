package backend

import "time"

type CheckInRequest struct {
	UserID            string
	ClassID           string
	ClassStart        time.Time
	EnrolledCourseIDs []string
}

type CheckInResult struct {
	AmplixGained     int
	AttendedClasses  int
	TotalClasses     int
	FullDayCompleted bool
}

type MarkAbsentRequest struct {
	UserID            string
	ClassID           string
	EnrolledCourseIDs []string
}

type MarkAbsentResult struct {
	AmplixLost           int
	AttendedClassesAfter int
}

// CourseSummary is the authoritative attendance count for one course.
type CourseSummary struct {
	CourseID        string  `json:"courseID"`
	AttendedClasses int     `json:"attendedClasses"`
	TotalClasses    int     `json:"totalClasses"`
	Percentage      float64 `json:"percentage"`
}

type EvaluateRequest struct {
	UserID        string
	ProgressIDs   []string
	CurrentStreak int
	CourseIDs     []string
}

type EvaluateResult struct {
	PointsToDeduct      int
	ClaimableChallenges int
}

type AttendanceStatus string

const (
	StatusPending AttendanceStatus = "pending"
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// ClassSession is one scheduled class as the user sees it.
type ClassSession struct {
	ClassID   string           `json:"classID"`
	CourseID  string           `json:"courseID"`
	Title     string           `json:"title,omitempty"`
	StartTime time.Time        `json:"startTime"`
	EndTime   time.Time        `json:"endTime"`
	Status    AttendanceStatus `json:"status"`
	Cancelled bool             `json:"cancelled,omitempty"`
}
