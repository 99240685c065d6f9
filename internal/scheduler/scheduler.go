// Package scheduler runs the engine's fixed timers: live and history polls,
// slot-start reminder generation, the daily sweep, the daily devotional,
// and the weekly report. Each timer is independent; a slow cycle on one
// never delays another, and a tick that arrives while the previous run of
// the same timer is still in flight is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/push"
	"github.com/ewhitmore/vigil/internal/reconcile"
	"github.com/ewhitmore/vigil/internal/reminder"
	"github.com/ewhitmore/vigil/internal/report"
	"github.com/ewhitmore/vigil/internal/store"
	"github.com/ewhitmore/vigil/internal/window"
)

const (
	// LivePollInterval paces the live roster poll. The meeting client
	// enforces its own lower bound on top of this.
	LivePollInterval = 2 * time.Minute

	// HistoryPollInterval paces the concluded-session poll.
	HistoryPollInterval = time.Hour

	// reminderTick is how often upcoming slot starts are scanned for.
	reminderTick = time.Minute

	// ReminderLead is how far before a slot's start its reminder fires.
	ReminderLead = 10 * time.Minute

	// DefaultSweepTime is the local wall-clock time of the daily sweep.
	DefaultSweepTime = "23:30"

	// DefaultDevotionalTime is when the daily devotional posts.
	DefaultDevotionalTime = "08:00"

	// DefaultReportTime is when the Sunday weekly report posts.
	DefaultReportTime = "18:00"
)

// Config carries the wall-clock trigger times, all "HH:MM" local.
type Config struct {
	SweepTime      string
	DevotionalTime string
	ReportTime     string
}

func (c *Config) applyDefaults() {
	if c.SweepTime == "" {
		c.SweepTime = DefaultSweepTime
	}
	if c.DevotionalTime == "" {
		c.DevotionalTime = DefaultDevotionalTime
	}
	if c.ReportTime == "" {
		c.ReportTime = DefaultReportTime
	}
}

// Queue is the reminder-queue surface the scheduler uses.
type Queue interface {
	EnqueueKeyed(key, recipient, message string, priority reminder.Priority) bool
}

// PushSender is the optional browser-push secondary transport.
type PushSender interface {
	Configured() bool
	Send(sub *model.PushSubscription, payload push.Payload) error
}

// Scheduler owns the timer goroutines. Construct with New, then Start.
type Scheduler struct {
	cfg        Config
	reconciler *reconcile.Reconciler
	slots      *store.SlotStore
	prefs      *store.PrefStore
	queue      Queue
	pusher     PushSender
	reporter   *report.Reporter
	devotional *report.Poster
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastLive atomic.Int64 // unix seconds, 0 = never
	lastHist atomic.Int64
	lastSwp  atomic.Value // string date key, "" = never
}

func New(
	cfg Config,
	rec *reconcile.Reconciler,
	slots *store.SlotStore,
	prefs *store.PrefStore,
	queue Queue,
	pusher PushSender,
	reporter *report.Reporter,
	devotional *report.Poster,
	loc *time.Location,
	logger *slog.Logger,
) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		cfg:        cfg,
		reconciler: rec,
		slots:      slots,
		prefs:      prefs,
		queue:      queue,
		pusher:     pusher,
		reporter:   reporter,
		devotional: devotional,
		logger:     logger,
		loc:        loc,
		now:        time.Now,
	}
	s.lastSwp.Store("")
	return s
}

// Status is a point-in-time snapshot for the ops endpoint.
type Status struct {
	LastLivePoll    *time.Time `json:"last_live_poll,omitempty"`
	LastHistoryPoll *time.Time `json:"last_history_poll,omitempty"`
	LastSweepDate   string     `json:"last_sweep_date,omitempty"`
}

func (s *Scheduler) Status() Status {
	var st Status
	if v := s.lastLive.Load(); v != 0 {
		t := time.Unix(v, 0).UTC()
		st.LastLivePoll = &t
	}
	if v := s.lastHist.Load(); v != 0 {
		t := time.Unix(v, 0).UTC()
		st.LastHistoryPoll = &t
	}
	st.LastSweepDate, _ = s.lastSwp.Load().(string)
	return st
}

// Start launches every timer loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	var wg sync.WaitGroup
	run := func(name string, interval time.Duration, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, name, interval, fn)
		}()
	}

	run("live_poll", LivePollInterval, s.reconciler.PollLive)
	run("history_poll", HistoryPollInterval, func(ctx context.Context) error {
		return s.reconciler.PollHistory(ctx, reconcile.DefaultLookbackDays)
	})
	run("slot_reminders", reminderTick, s.generateReminders)
	run("daily", time.Minute, s.dailyTriggers)

	go func() {
		wg.Wait()
		close(done)
	}()
}

// Stop cancels the loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// loop ticks fn at the given interval. A tick arriving while fn is still
// running is dropped, so one timer never stacks on itself. fn errors are
// logged and the loop continues.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inFlight atomic.Bool
	var runs sync.WaitGroup
	defer runs.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				s.logger.Warn("timer tick skipped, previous run still in flight", "timer", name)
				continue
			}
			runs.Add(1)
			go func() {
				defer runs.Done()
				defer inFlight.Store(false)
				if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("timer cycle failed", "timer", name, "error", err)
				}
				s.trackCompletion(name)
			}()
		}
	}
}

func (s *Scheduler) trackCompletion(name string) {
	switch name {
	case "live_poll":
		s.lastLive.Store(s.now().Unix())
	case "history_poll":
		s.lastHist.Store(s.now().Unix())
	}
}

// generateReminders scans active slots and enqueues a start reminder for
// each slot beginning ReminderLead from now. The (slotID, scheduledMinute)
// key suppresses the duplicate fire when a tick lands twice inside the same
// minute. Quiet hours silence the chat reminder entirely; a configured
// browser-push subscription still receives nothing during quiet hours.
func (s *Scheduler) generateReminders(ctx context.Context) error {
	now := s.now().In(s.loc)
	target := now.Add(ReminderLead)
	targetMinute := target.Hour()*60 + target.Minute()

	slots, err := s.slots.ListActive()
	if err != nil {
		return fmt.Errorf("reminder scan: %w", err)
	}

	for _, slot := range slots {
		if slot.OwnerID == nil || slot.OwnerHandle == "" {
			continue
		}
		if slot.SkippedOn(target) {
			continue
		}

		r, err := window.Parse(slot.TimeRange)
		if err != nil {
			continue // reconcile already flags malformed ranges
		}
		if r.Start != targetMinute {
			continue
		}

		schedule, err := s.prefs.GetSchedule(*slot.OwnerID)
		if err != nil {
			s.logger.Error("reminder scan: schedule lookup failed", "owner_id", *slot.OwnerID, "error", err)
			continue
		}
		if !schedule.Contains(target.Weekday()) {
			continue
		}

		quiet, err := s.prefs.GetQuietHours(*slot.OwnerID)
		if err != nil {
			s.logger.Error("reminder scan: quiet hours lookup failed", "owner_id", *slot.OwnerID, "error", err)
			continue
		}
		if reminder.InQuietHours(quiet, now) {
			s.logger.Debug("reminder suppressed by quiet hours", "slot_id", slot.ID)
			continue
		}

		key := fmt.Sprintf("%s:%s", slot.ID, target.Format("2006-01-02T15:04"))
		msg := fmt.Sprintf("Your %s prayer slot starts in %d minutes.", slot.TimeRange, int(ReminderLead.Minutes()))
		if !s.queue.EnqueueKeyed(key, slot.OwnerHandle, msg, reminder.PriorityNormal) {
			continue
		}
		s.sendPush(slot, msg)
	}
	return nil
}

// sendPush mirrors a chat reminder to the owner's browser subscriptions.
// Best effort: failures are logged, expired subscriptions dropped.
func (s *Scheduler) sendPush(slot model.PrayerSlot, msg string) {
	if s.pusher == nil || !s.pusher.Configured() {
		return
	}
	subs, err := s.prefs.ListSubscriptionsByOwner(*slot.OwnerID)
	if err != nil {
		s.logger.Error("push: subscription lookup failed", "owner_id", *slot.OwnerID, "error", err)
		return
	}
	for i := range subs {
		err := s.pusher.Send(&subs[i], push.Payload{
			Title: "Prayer slot reminder",
			Body:  msg,
			Tag:   slot.ID,
		})
		if errors.Is(err, push.ErrExpired) {
			if derr := s.prefs.DeleteSubscriptionByEndpoint(subs[i].Endpoint); derr != nil {
				s.logger.Error("push: failed to drop expired subscription", "error", derr)
			}
			continue
		}
		if err != nil {
			s.logger.Warn("push delivery failed", "owner_id", *slot.OwnerID, "error", err)
		}
	}
}

// dailyTriggers fires the wall-clock-scheduled jobs: the sweep, the
// devotional, and the Sunday report. Each fires in the minute its
// configured time names; the sweep additionally remembers the last date it
// ran so a restart inside the trigger minute cannot double-run it.
func (s *Scheduler) dailyTriggers(ctx context.Context) error {
	now := s.now().In(s.loc)
	hhmm := now.Format("15:04")

	if hhmm == s.cfg.SweepTime {
		date := model.DateKey(now)
		if last, _ := s.lastSwp.Load().(string); last != date {
			if _, err := s.reconciler.SweepUnmatched(ctx, now); err != nil {
				return fmt.Errorf("daily sweep: %w", err)
			}
			s.lastSwp.Store(date)
		}
	}

	if hhmm == s.cfg.DevotionalTime && s.devotional != nil {
		if err := s.devotional.PostDaily(ctx, now); err != nil {
			s.logger.Error("devotional post failed", "error", err)
		}
	}

	if hhmm == s.cfg.ReportTime && now.Weekday() == time.Sunday && s.reporter != nil {
		if _, err := s.reporter.WeeklySummary(ctx, now); err != nil {
			s.logger.Error("weekly report failed", "error", err)
		}
	}
	return nil
}
