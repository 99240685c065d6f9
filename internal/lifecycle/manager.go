// Package lifecycle owns the per-slot state machine: attended resets the
// miss counter, missed accrues it, and the fifth miss releases the slot
// back to the available pool.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/reminder"
	"github.com/ewhitmore/vigil/internal/store"
)

// warnAt are the miss counts that trigger an advisory warning before the
// release threshold.
var warnAt = map[int]bool{3: true, 4: true}

// SlotStore is the slice of the slot store the manager needs.
type SlotStore interface {
	GetByID(id string) (*model.PrayerSlot, error)
	UpdateCounters(id string, prevMissed int, upd store.CounterUpdate) error
}

// Notifier enqueues advisory messages. Enqueueing never blocks a state
// transition.
type Notifier interface {
	Enqueue(recipient, message string, priority reminder.Priority)
}

type Manager struct {
	slots  SlotStore
	queue  Notifier
	logger *slog.Logger
}

func NewManager(slots SlotStore, queue Notifier, logger *slog.Logger) *Manager {
	return &Manager{slots: slots, queue: queue, logger: logger}
}

// RecordAttended resets the slot's miss counter and stamps the attendance
// time. Safe to call repeatedly for the same day.
func (m *Manager) RecordAttended(ctx context.Context, slotID string, at time.Time) error {
	return m.withConflictRetry(ctx, slotID, func(cur *model.PrayerSlot) error {
		if cur.Status == model.SlotReleased {
			return nil
		}
		if cur.MissedCount == 0 && cur.LastAttendedAt != nil && model.DateKey(*cur.LastAttendedAt) == model.DateKey(at) {
			// Already reset for this day.
			return nil
		}
		return m.slots.UpdateCounters(cur.ID, cur.MissedCount, store.CounterUpdate{
			MissedCount:    0,
			Status:         cur.Status,
			LastAttendedAt: &at,
		})
	})
}

// RecordMissed accrues one miss. Reaching the threshold releases the slot:
// the owner is cleared and the window returns to the pool. Returns whether
// the slot was released.
func (m *Manager) RecordMissed(ctx context.Context, slotID string) (bool, error) {
	released := false
	err := m.withConflictRetry(ctx, slotID, func(cur *model.PrayerSlot) error {
		if cur.Status == model.SlotReleased {
			return nil
		}

		newCount := cur.MissedCount + 1
		if newCount >= model.MissedThreshold {
			if err := m.slots.UpdateCounters(cur.ID, cur.MissedCount, store.CounterUpdate{
				MissedCount: 0,
				Status:      model.SlotReleased,
				ClearOwner:  true,
			}); err != nil {
				return err
			}
			released = true
			m.logger.Info("slot released after repeated misses", "slot_id", cur.ID, "time_range", cur.TimeRange)
			if cur.OwnerHandle != "" {
				m.queue.Enqueue(cur.OwnerHandle, releaseMessage(cur), reminder.PriorityUrgent)
			}
			return nil
		}

		if err := m.slots.UpdateCounters(cur.ID, cur.MissedCount, store.CounterUpdate{
			MissedCount: newCount,
			Status:      cur.Status,
		}); err != nil {
			return err
		}
		if warnAt[newCount] && cur.OwnerHandle != "" {
			m.queue.Enqueue(cur.OwnerHandle, warningMessage(cur, newCount), reminder.PriorityNormal)
		}
		return nil
	})
	return released, err
}

// withConflictRetry runs fn against a fresh read of the slot, re-reading
// and retrying once when the conditional update loses a race. A second
// conflict is logged and abandoned; the next sweep corrects state.
func (m *Manager) withConflictRetry(ctx context.Context, slotID string, fn func(cur *model.PrayerSlot) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(25*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cur, err := m.slots.GetByID(slotID)
		if err != nil {
			return err
		}
		if cur == nil {
			return nil
		}
		if err := fn(cur); err != nil {
			if errors.Is(err, store.ErrCounterConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if errors.Is(err, store.ErrCounterConflict) {
		m.logger.Warn("slot counter conflict persisted after retry, leaving for next sweep", "slot_id", slotID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("slot %s lifecycle update: %w", slotID, err)
	}
	return nil
}

func warningMessage(slot *model.PrayerSlot, count int) string {
	remaining := model.MissedThreshold - count
	return fmt.Sprintf(
		"You've missed your %s prayer slot %d times. After %d more missed day(s) the slot will be released to others.",
		slot.TimeRange, count, remaining,
	)
}

func releaseMessage(slot *model.PrayerSlot) string {
	return fmt.Sprintf(
		"Your %s prayer slot has been released after %d missed days. You're welcome to claim a new slot any time.",
		slot.TimeRange, model.MissedThreshold,
	)
}
