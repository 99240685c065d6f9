// Package report turns attendance history into coordinator-facing summary
// messages. The weekly report covers the trailing seven days per owner; the
// devotional poster relays daily text from a pluggable source.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/reminder"
)

// AttendanceLister is the slice of the attendance store the reporter reads.
type AttendanceLister interface {
	ListBetween(fromDate, toDate string) ([]model.AttendanceRecord, error)
}

// SlotLister enumerates the slots whose owners appear in the report.
type SlotLister interface {
	ListActive() ([]model.PrayerSlot, error)
	ListReleased() ([]model.PrayerSlot, error)
}

// Notifier enqueues the finished report for delivery.
type Notifier interface {
	Enqueue(recipient, message string, priority reminder.Priority)
}

type Reporter struct {
	attendance  AttendanceLister
	slots       SlotLister
	queue       Notifier
	logger      *slog.Logger
	loc         *time.Location
	coordinator string // chat handle the report is delivered to
}

func NewReporter(attendance AttendanceLister, slots SlotLister, queue Notifier, coordinator string, loc *time.Location, logger *slog.Logger) *Reporter {
	return &Reporter{
		attendance:  attendance,
		slots:       slots,
		queue:       queue,
		logger:      logger,
		loc:         loc,
		coordinator: coordinator,
	}
}

type ownerTally struct {
	ownerID   string
	timeRange string
	attended  int
	missed    int
}

// WeeklySummary builds the trailing-seven-day attendance summary ending at
// now and enqueues it for the coordinator. Owners with a slot but no rows in
// the window appear with zero counts. No coordinator configured means the
// report is formatted and logged but not sent.
func (r *Reporter) WeeklySummary(ctx context.Context, now time.Time) (string, error) {
	now = now.In(r.loc)
	to := model.DateKey(now)
	from := model.DateKey(now.AddDate(0, 0, -6))

	records, err := r.attendance.ListBetween(from, to)
	if err != nil {
		return "", fmt.Errorf("weekly summary: %w", err)
	}

	slots, err := r.slots.ListActive()
	if err != nil {
		return "", fmt.Errorf("weekly summary: %w", err)
	}

	tallies := make(map[string]*ownerTally, len(slots))
	for _, slot := range slots {
		if slot.OwnerID == nil {
			continue
		}
		tallies[*slot.OwnerID] = &ownerTally{ownerID: *slot.OwnerID, timeRange: slot.TimeRange}
	}
	for _, rec := range records {
		t, ok := tallies[rec.OwnerID]
		if !ok {
			// Rows can outlive a released slot; count them without a window.
			t = &ownerTally{ownerID: rec.OwnerID}
			tallies[rec.OwnerID] = t
		}
		switch rec.Outcome {
		case model.OutcomeAttended:
			t.attended++
		case model.OutcomeMissed:
			t.missed++
		}
	}

	released, err := r.slots.ListReleased()
	if err != nil {
		return "", fmt.Errorf("weekly summary: %w", err)
	}

	msg := formatSummary(from, to, tallies, len(released))
	if r.coordinator == "" {
		r.logger.Info("weekly summary built, no coordinator configured", "from", from, "to", to)
		return msg, nil
	}
	r.queue.Enqueue(r.coordinator, msg, reminder.PriorityLow)
	r.logger.Info("weekly summary enqueued", "from", from, "to", to, "owners", len(tallies))
	return msg, nil
}

func formatSummary(from, to string, tallies map[string]*ownerTally, releasedCount int) string {
	ordered := make([]*ownerTally, 0, len(tallies))
	for _, t := range tallies {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ownerID < ordered[j].ownerID })

	var b strings.Builder
	fmt.Fprintf(&b, "Prayer slot summary %s – %s\n", from, to)
	if len(ordered) == 0 {
		b.WriteString("No slots assigned this week.\n")
	}
	for _, t := range ordered {
		label := t.ownerID
		if t.timeRange != "" {
			label = fmt.Sprintf("%s (%s)", t.ownerID, t.timeRange)
		}
		fmt.Fprintf(&b, "• %s: %d attended, %d missed\n", label, t.attended, t.missed)
	}
	if releasedCount > 0 {
		fmt.Fprintf(&b, "%d slot(s) currently open for adoption.\n", releasedCount)
	}
	return strings.TrimRight(b.String(), "\n")
}
