package model

import "time"

// QuietHours is a per-owner window during which reminders are suppressed.
// Start and End are "HH:MM" wall-clock times; the window may wrap midnight.
type QuietHours struct {
	OwnerID string
	Enabled bool
	Start   string
	End     string
}

// WeekdaySet is the set of weekdays an owner's slot is active on. An empty
// set means every day.
type WeekdaySet map[time.Weekday]bool

// Contains reports whether the set admits the given weekday. The empty set
// admits all weekdays.
func (w WeekdaySet) Contains(d time.Weekday) bool {
	if len(w) == 0 {
		return true
	}
	return w[d]
}

// PushSubscription is a browser push endpoint registered by an owner.
type PushSubscription struct {
	ID        int64
	OwnerID   string
	Endpoint  string
	P256dhKey string
	AuthKey   string
	CreatedAt time.Time
}
