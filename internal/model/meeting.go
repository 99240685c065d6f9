package model

import "time"

// MeetingSession is one concluded instance of the recurring meeting,
// as reported by the provider. Ephemeral; only the processed marker for
// SessionID is persisted.
type MeetingSession struct {
	SessionID string
	StartTime time.Time
}

// ParticipantEvent is one observed participant in a live or concluded
// session. Identity is the provider's email-equivalent key.
type ParticipantEvent struct {
	Identity  string
	JoinTime  time.Time
	LeaveTime *time.Time
}
