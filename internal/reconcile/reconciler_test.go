package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ewhitmore/vigil/internal/database"
	"github.com/ewhitmore/vigil/internal/lifecycle"
	"github.com/ewhitmore/vigil/internal/model"
	"github.com/ewhitmore/vigil/internal/reminder"
	"github.com/ewhitmore/vigil/internal/store"
)

type fakeProvider struct {
	live         []model.ParticipantEvent
	sessions     []model.MeetingSession
	participants map[string][]model.ParticipantEvent
	liveErr      error
}

func (f *fakeProvider) FetchLiveParticipants(context.Context) ([]model.ParticipantEvent, error) {
	return f.live, f.liveErr
}

func (f *fakeProvider) FetchRecentSessions(context.Context, int) ([]model.MeetingSession, error) {
	return f.sessions, nil
}

func (f *fakeProvider) FetchSessionParticipants(_ context.Context, sessionID string) ([]model.ParticipantEvent, error) {
	return f.participants[sessionID], nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Enqueue(recipient, message string, priority reminder.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type fixture struct {
	db         *sql.DB
	slots      *store.SlotStore
	attendance *store.AttendanceStore
	sessions   *store.SessionStore
	prefs      *store.PrefStore
	notifier   *fakeNotifier
	provider   *fakeProvider
	rec        *Reconciler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		db:         db,
		slots:      store.NewSlotStore(db),
		attendance: store.NewAttendanceStore(db),
		sessions:   store.NewSessionStore(db),
		prefs:      store.NewPrefStore(db),
		notifier:   &fakeNotifier{},
		provider:   &fakeProvider{participants: map[string][]model.ParticipantEvent{}},
	}
	lc := lifecycle.NewManager(f.slots, f.notifier, logger)
	f.rec = New(f.slots, f.attendance, f.sessions, f.prefs, lc, f.provider, time.UTC, logger)
	return f
}

func TestReconcileEarlyJoinWithinTolerance(t *testing.T) {
	f := setup(t)
	slot, err := f.slots.Create("anna@example.com", "@anna", "14:00–14:30")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	join := time.Date(2026, 8, 28, 13, 47, 0, 0, time.UTC)
	events := []model.ParticipantEvent{{Identity: "Anna@Example.com", JoinTime: join}}
	active, _ := f.slots.ListActive()

	written, err := f.rec.Reconcile(context.Background(), events, active, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("written = %d, want 1", len(written))
	}
	if written[0].Outcome != model.OutcomeAttended || written[0].Date != "2026-08-28" {
		t.Errorf("record = %+v", written[0])
	}

	// Second pass with the identical events: no duplicate row, count stays 0.
	if _, err := f.rec.Reconcile(context.Background(), events, active, nil); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	records, _ := f.attendance.ListByDate("2026-08-28")
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(records))
	}
	got, _ := f.slots.GetByID(slot.ID)
	if got.MissedCount != 0 {
		t.Errorf("missed_count = %d, want 0", got.MissedCount)
	}
	if got.LastAttendedAt == nil {
		t.Error("last_attended_at should be stamped")
	}
}

func TestReconcileOutsideWindowAndUnknownIdentity(t *testing.T) {
	f := setup(t)
	if _, err := f.slots.Create("ben@example.com", "@ben", "14:00–14:30"); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	events := []model.ParticipantEvent{
		// 16 minutes early, outside the 15-minute tolerance.
		{Identity: "ben@example.com", JoinTime: time.Date(2026, 8, 28, 13, 44, 0, 0, time.UTC)},
		// Present but owns no slot.
		{Identity: "guest@example.com", JoinTime: time.Date(2026, 8, 28, 14, 5, 0, 0, time.UTC)},
	}
	active, _ := f.slots.ListActive()

	written, err := f.rec.Reconcile(context.Background(), events, active, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("written = %d, want 0", len(written))
	}
	records, _ := f.attendance.ListByDate("2026-08-28")
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestReconcileMalformedWindowSkipsSlotOnly(t *testing.T) {
	f := setup(t)
	if _, err := f.slots.Create("bad@example.com", "@bad", "whenever works"); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	if _, err := f.slots.Create("good@example.com", "@good", "14:00–14:30"); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	join := time.Date(2026, 8, 28, 14, 5, 0, 0, time.UTC)
	events := []model.ParticipantEvent{
		{Identity: "bad@example.com", JoinTime: join},
		{Identity: "good@example.com", JoinTime: join},
	}
	active, _ := f.slots.ListActive()

	written, err := f.rec.Reconcile(context.Background(), events, active, nil)
	if err != nil {
		t.Fatalf("reconcile must not abort on a malformed slot: %v", err)
	}
	if len(written) != 1 || written[0].OwnerID != "good@example.com" {
		t.Errorf("written = %+v, want only the well-formed slot", written)
	}
}

func TestSweepAccruesMissAndWarns(t *testing.T) {
	f := setup(t)
	slot, err := f.slots.Create("cam@example.com", "@cam", "06:00–06:30")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	// Owner already at 2 misses.
	if err := f.slots.UpdateCounters(slot.ID, 0, store.CounterUpdate{MissedCount: 2, Status: model.SlotActive}); err != nil {
		t.Fatalf("seed count: %v", err)
	}

	day := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	missed, err := f.rec.SweepUnmatched(context.Background(), day)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(missed) != 1 {
		t.Fatalf("missed = %d, want 1", len(missed))
	}

	got, _ := f.slots.GetByID(slot.ID)
	if got.MissedCount != 3 {
		t.Errorf("missed_count = %d, want 3", got.MissedCount)
	}
	if got.Status != model.SlotActive {
		t.Errorf("status = %q, want active (warning, not release)", got.Status)
	}
	if len(f.notifier.messages) != 1 || !strings.Contains(f.notifier.messages[0], "3 times") {
		t.Errorf("messages = %v, want one warning", f.notifier.messages)
	}

	// Second sweep for the same day: the row exists, nothing accrues.
	missed, err = f.rec.SweepUnmatched(context.Background(), day)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(missed) != 0 {
		t.Errorf("second sweep missed = %d, want 0", len(missed))
	}
	got, _ = f.slots.GetByID(slot.ID)
	if got.MissedCount != 3 {
		t.Errorf("missed_count after double sweep = %d, want 3", got.MissedCount)
	}
}

func TestSweepSkipsAttendedAndUnscheduledAndSkipped(t *testing.T) {
	f := setup(t)

	// Attended today: no miss.
	if _, err := f.slots.Create("attended@example.com", "@a", "06:00–06:30"); err != nil {
		t.Fatalf("create: %v", err)
	}
	join := time.Date(2026, 8, 28, 6, 5, 0, 0, time.UTC)
	if _, err := f.attendance.UpsertAttended("attended@example.com", "2026-08-28", &join, nil, nil); err != nil {
		t.Fatalf("seed attended: %v", err)
	}

	// Friday is not on this owner's schedule.
	if _, err := f.slots.Create("weekdays@example.com", "@w", "07:00–07:30"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.prefs.SetSchedule("weekdays@example.com", []time.Weekday{time.Monday, time.Wednesday}); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	// Inside a skip window.
	vac, err := f.slots.Create("vacation@example.com", "@v", "08:00–08:30")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.slots.SetSkipWindow(vac.ID,
		time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("set skip: %v", err)
	}

	// 2026-08-28 is a Friday.
	day := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	missed, err := f.rec.SweepUnmatched(context.Background(), day)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(missed) != 0 {
		t.Errorf("missed = %v, want none", missed)
	}
}

func TestPollHistoryProcessesEachSessionOnce(t *testing.T) {
	f := setup(t)
	slot, err := f.slots.Create("dee@example.com", "@dee", "14:00–14:30")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	start := time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC)
	f.provider.sessions = []model.MeetingSession{{SessionID: "uuid-1", StartTime: start}}
	join := start.Add(2 * time.Minute)
	leave := start.Add(25 * time.Minute)
	f.provider.participants["uuid-1"] = []model.ParticipantEvent{
		{Identity: "dee@example.com", JoinTime: join, LeaveTime: &leave},
	}

	if err := f.rec.PollHistory(context.Background(), 7); err != nil {
		t.Fatalf("history poll: %v", err)
	}

	rec, _ := f.attendance.Get("dee@example.com", "2026-08-27")
	if rec == nil || rec.Outcome != model.OutcomeAttended {
		t.Fatalf("record = %+v, want attended", rec)
	}
	if rec.SourceMeetingID == nil || *rec.SourceMeetingID != "uuid-1" {
		t.Errorf("source = %v, want uuid-1", rec.SourceMeetingID)
	}

	// Accrue a miss afterwards, then re-poll: the processed marker must
	// prevent the session from resetting the counter again.
	if err := f.slots.UpdateCounters(slot.ID, 0, store.CounterUpdate{MissedCount: 2, Status: model.SlotActive}); err != nil {
		t.Fatalf("seed count: %v", err)
	}
	if err := f.rec.PollHistory(context.Background(), 7); err != nil {
		t.Fatalf("second history poll: %v", err)
	}
	got, _ := f.slots.GetByID(slot.ID)
	if got.MissedCount != 2 {
		t.Errorf("missed_count = %d, want 2 (session must not reprocess)", got.MissedCount)
	}
}

func TestPollLiveEmptyRosterIsNoOp(t *testing.T) {
	f := setup(t)
	if err := f.rec.PollLive(context.Background()); err != nil {
		t.Fatalf("empty live poll: %v", err)
	}
}

func TestLateLiveMatchFlipsSweptMiss(t *testing.T) {
	f := setup(t)
	slot, err := f.slots.Create("eve@example.com", "@eve", "23:00–23:30")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	day := time.Date(2026, 8, 28, 23, 45, 0, 0, time.UTC)
	if _, err := f.rec.SweepUnmatched(context.Background(), day); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	rec, _ := f.attendance.Get("eve@example.com", "2026-08-28")
	if rec.Outcome != model.OutcomeMissed {
		t.Fatalf("outcome = %q, want missed before the late match", rec.Outcome)
	}

	// A live match lands after the sweep already marked the day missed.
	f.provider.live = []model.ParticipantEvent{
		{Identity: "eve@example.com", JoinTime: time.Date(2026, 8, 28, 23, 20, 0, 0, time.UTC)},
	}
	if err := f.rec.PollLive(context.Background()); err != nil {
		t.Fatalf("live poll: %v", err)
	}

	rec, _ = f.attendance.Get("eve@example.com", "2026-08-28")
	if rec.Outcome != model.OutcomeAttended {
		t.Errorf("outcome = %q, want attended (late match wins)", rec.Outcome)
	}
	got, _ := f.slots.GetByID(slot.ID)
	if got.MissedCount != 0 {
		t.Errorf("missed_count = %d, want reset to 0", got.MissedCount)
	}
}
