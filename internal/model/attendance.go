package model

import "time"

// Outcome is the recorded result for one (owner, date) pair.
type Outcome string

const (
	OutcomeAttended Outcome = "attended"
	OutcomeMissed   Outcome = "missed"
)

// AttendanceRecord is one row per owner per calendar date. The (OwnerID, Date)
// pair is unique; every write is an upsert, which is what makes repeated
// polling safe.
type AttendanceRecord struct {
	ID              int64
	OwnerID         string
	Date            string // "2006-01-02" in the platform timezone
	Outcome         Outcome
	JoinTime        *time.Time
	LeaveTime       *time.Time
	SourceMeetingID *string // "manual_<unix>" for operator-entered rows
	CreatedAt       time.Time
}

// DateKey formats a point in time as an attendance date key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
