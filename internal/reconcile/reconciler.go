// Package reconcile joins observed meeting presence against assigned prayer
// slots and writes idempotent attendance outcomes. It also owns the daily
// sweep that marks evidence-free slots as missed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ewhitmore/vigil/internal/lifecycle"
	"github.com/ewhitmore/vigil/internal/meeting"
	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/store"
	"github.com/ewhitmore/vigil/internal/window"
)

// Provider is the slice of the meeting client the reconciler consumes.
type Provider interface {
	FetchLiveParticipants(ctx context.Context) ([]model.ParticipantEvent, error)
	FetchRecentSessions(ctx context.Context, lookbackDays int) ([]model.MeetingSession, error)
	FetchSessionParticipants(ctx context.Context, sessionID string) ([]model.ParticipantEvent, error)
}

// DefaultLookbackDays is the trailing window the history poll covers,
// catching sessions the live poller missed during downtime.
const DefaultLookbackDays = 7

type Reconciler struct {
	slots      *store.SlotStore
	attendance *store.AttendanceStore
	sessions   *store.SessionStore
	prefs      *store.PrefStore
	lifecycle  *lifecycle.Manager
	provider   Provider
	logger     *slog.Logger
	loc        *time.Location
	tolerance  int
}

func New(
	slots *store.SlotStore,
	attendance *store.AttendanceStore,
	sessions *store.SessionStore,
	prefs *store.PrefStore,
	lc *lifecycle.Manager,
	provider Provider,
	loc *time.Location,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		slots:      slots,
		attendance: attendance,
		sessions:   sessions,
		prefs:      prefs,
		lifecycle:  lc,
		provider:   provider,
		logger:     logger,
		loc:        loc,
		tolerance:  window.DefaultTolerance,
	}
}

// Reconcile matches participant events against active slots, in provider
// order, and upserts attended outcomes. Unmatched identities and events
// outside every window are simply out of scope for the pass, not errors.
// Re-running with the same events changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, events []model.ParticipantEvent, activeSlots []model.PrayerSlot, sourceMeetingID *string) ([]model.AttendanceRecord, error) {
	byOwner := make(map[string]*model.PrayerSlot, len(activeSlots))
	for i := range activeSlots {
		slot := &activeSlots[i]
		if slot.OwnerID == nil {
			continue
		}
		byOwner[strings.ToLower(*slot.OwnerID)] = slot
	}

	var written []model.AttendanceRecord
	for _, ev := range events {
		slot, ok := byOwner[strings.ToLower(ev.Identity)]
		if !ok {
			continue
		}

		localJoin := ev.JoinTime.In(r.loc)
		match, err := window.Match(localJoin, slot.TimeRange, r.tolerance)
		if err != nil {
			// Unparsable slot text is non-fatal: skip the slot, flag it for
			// operator follow-up, keep reconciling the rest.
			r.logger.Warn("slot has malformed time range, needs operator review",
				"slot_id", slot.ID, "time_range", slot.TimeRange, "error", err)
			continue
		}
		if !match {
			continue
		}

		date := model.DateKey(localJoin)
		ownerID := *slot.OwnerID
		if _, err := r.attendance.UpsertAttended(ownerID, date, &ev.JoinTime, ev.LeaveTime, sourceMeetingID); err != nil {
			return written, fmt.Errorf("reconcile %s: %w", ownerID, err)
		}
		if err := r.lifecycle.RecordAttended(ctx, slot.ID, ev.JoinTime); err != nil {
			return written, err
		}

		rec := model.AttendanceRecord{
			OwnerID:         ownerID,
			Date:            date,
			Outcome:         model.OutcomeAttended,
			JoinTime:        &ev.JoinTime,
			LeaveTime:       ev.LeaveTime,
			SourceMeetingID: sourceMeetingID,
		}
		written = append(written, rec)
	}
	return written, nil
}

// PollLive fetches the live roster and reconciles it. Throttling and pacing
// degrade to a skipped cycle.
func (r *Reconciler) PollLive(ctx context.Context) error {
	events, err := r.provider.FetchLiveParticipants(ctx)
	if err != nil {
		if errors.Is(err, meeting.ErrTooSoon) {
			r.logger.Debug("live poll skipped, too soon after previous poll")
			return nil
		}
		if errors.Is(err, meeting.ErrRateLimited) {
			r.logger.Info("live poll skipped, provider rate limited")
			return nil
		}
		return fmt.Errorf("live poll: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	slots, err := r.slots.ListActive()
	if err != nil {
		return fmt.Errorf("live poll: %w", err)
	}
	_, err = r.Reconcile(ctx, events, slots, nil)
	return err
}

// PollHistory fetches recently concluded session instances and reconciles
// any not yet processed. Each session is marked processed only after its
// roster reconciled cleanly, so a failed cycle is retried next tick.
func (r *Reconciler) PollHistory(ctx context.Context, lookbackDays int) error {
	sessions, err := r.provider.FetchRecentSessions(ctx, lookbackDays)
	if err != nil {
		if errors.Is(err, meeting.ErrRateLimited) {
			r.logger.Info("history poll skipped, provider rate limited")
			return nil
		}
		return fmt.Errorf("history poll: %w", err)
	}
	if len(sessions) == 0 {
		return nil
	}

	slots, err := r.slots.ListActive()
	if err != nil {
		return fmt.Errorf("history poll: %w", err)
	}

	for _, sess := range sessions {
		done, err := r.sessions.WasProcessed(sess.SessionID)
		if err != nil {
			return fmt.Errorf("history poll: %w", err)
		}
		if done {
			continue
		}

		events, err := r.provider.FetchSessionParticipants(ctx, sess.SessionID)
		if err != nil {
			if errors.Is(err, meeting.ErrRateLimited) {
				r.logger.Info("history poll cut short, provider rate limited", "session_id", sess.SessionID)
				return nil
			}
			return fmt.Errorf("history poll session %s: %w", sess.SessionID, err)
		}

		src := sess.SessionID
		if _, err := r.Reconcile(ctx, events, slots, &src); err != nil {
			return err
		}
		if err := r.sessions.MarkProcessed(sess.SessionID); err != nil {
			return fmt.Errorf("history poll: %w", err)
		}
		r.logger.Info("reconciled session instance", "session_id", sess.SessionID, "participants", len(events))
	}

	// Markers older than twice the lookback can never be consulted again.
	cutoff := time.Now().AddDate(0, 0, -2*lookbackDays)
	if n, err := r.sessions.PruneBefore(cutoff); err != nil {
		r.logger.Warn("failed to prune processed-session markers", "error", err)
	} else if n > 0 {
		r.logger.Debug("pruned processed-session markers", "count", n)
	}
	return nil
}

// SweepUnmatched marks every active slot with no attendance row for the day
// as missed, honoring skip windows and per-owner weekday schedules. Returns
// the slots that accrued a miss. Running the sweep twice for the same day
// is a no-op the second time.
func (r *Reconciler) SweepUnmatched(ctx context.Context, day time.Time) ([]model.PrayerSlot, error) {
	day = day.In(r.loc)
	date := model.DateKey(day)

	slots, err := r.slots.ListActive()
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	var missed []model.PrayerSlot
	for _, slot := range slots {
		if slot.OwnerID == nil {
			continue
		}
		if slot.SkippedOn(day) {
			continue
		}

		schedule, err := r.prefs.GetSchedule(*slot.OwnerID)
		if err != nil {
			r.logger.Error("sweep: owner schedule lookup failed", "owner_id", *slot.OwnerID, "error", err)
			continue
		}
		if !schedule.Contains(day.Weekday()) {
			continue
		}

		created, err := r.attendance.InsertMissed(*slot.OwnerID, date)
		if err != nil {
			r.logger.Error("sweep: missed insert failed", "owner_id", *slot.OwnerID, "error", err)
			continue
		}
		if !created {
			// The day already has a row; the live poller got here first.
			continue
		}

		if _, err := r.lifecycle.RecordMissed(ctx, slot.ID); err != nil {
			r.logger.Error("sweep: miss accrual failed", "slot_id", slot.ID, "error", err)
			continue
		}
		missed = append(missed, slot)
	}

	r.logger.Info("daily sweep complete", "date", date, "evaluated", len(slots), "missed", len(missed))
	return missed, nil
}
