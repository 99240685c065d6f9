package model

import "time"

// SlotStatus is the lifecycle state of a prayer slot.
type SlotStatus string

const (
	SlotActive   SlotStatus = "active"
	SlotSkipped  SlotStatus = "skipped"
	SlotReleased SlotStatus = "released"
)

// MissedThreshold is the number of accrued misses at which a slot is
// released and its window returned to the available pool.
const MissedThreshold = 5

// PrayerSlot is a recurring time-window assignment. OwnerID is nil once
// the slot has been released back to the pool.
type PrayerSlot struct {
	ID             string
	OwnerID        *string
	OwnerHandle    string // chat handle reminders are delivered to
	TimeRange      string // "HH:MM–HH:MM" wall-clock range, may wrap midnight
	Status         SlotStatus
	MissedCount    int
	LastAttendedAt *time.Time
	SkipStart      *time.Time
	SkipEnd        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SkippedOn reports whether the slot is in its skipped state with the given
// day inside the skip window. A skipped slot with no window bounds is
// treated as skipped indefinitely.
func (s *PrayerSlot) SkippedOn(day time.Time) bool {
	if s.Status != SlotSkipped {
		return false
	}
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	if s.SkipStart != nil && d.Before(*s.SkipStart) {
		return false
	}
	if s.SkipEnd != nil && d.After(*s.SkipEnd) {
		return false
	}
	return true
}
