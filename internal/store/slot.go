package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ewhitmore/vigil/internal/model"
)

// ErrCounterConflict is returned when a conditional counter update finds the
// slot's missed_count changed since it was read. The caller re-reads and
// retries once; a second conflict is logged and left for the next sweep.
var ErrCounterConflict = errors.New("slot counters changed concurrently")

type SlotStore struct {
	db *sql.DB
}

func NewSlotStore(db *sql.DB) *SlotStore {
	return &SlotStore{db: db}
}

func scanSlot(scanner interface{ Scan(...any) error }) (*model.PrayerSlot, error) {
	var s model.PrayerSlot
	var ownerID sql.NullString
	var lastAttended sql.NullTime
	var skipStart, skipEnd sql.NullTime

	err := scanner.Scan(
		&s.ID, &ownerID, &s.OwnerHandle, &s.TimeRange, &s.Status,
		&s.MissedCount, &lastAttended, &skipStart, &skipEnd,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		s.OwnerID = &ownerID.String
	}
	if lastAttended.Valid {
		s.LastAttendedAt = &lastAttended.Time
	}
	if skipStart.Valid {
		s.SkipStart = &skipStart.Time
	}
	if skipEnd.Valid {
		s.SkipEnd = &skipEnd.Time
	}
	return &s, nil
}

const slotCols = `id, owner_id, owner_handle, time_range, status, missed_count, last_attended_at, skip_start, skip_end, created_at, updated_at`

// Create claims a free time window for an owner.
func (s *SlotStore) Create(ownerID, ownerHandle, timeRange string) (*model.PrayerSlot, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO prayer_slots (id, owner_id, owner_handle, time_range, status) VALUES (?, ?, ?, ?, 'active')`,
		id, ownerID, ownerHandle, timeRange,
	)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return s.GetByID(id)
}

func (s *SlotStore) GetByID(id string) (*model.PrayerSlot, error) {
	row := s.db.QueryRow(`SELECT `+slotCols+` FROM prayer_slots WHERE id = ?`, id)
	slot, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

func (s *SlotStore) GetByOwner(ownerID string) (*model.PrayerSlot, error) {
	row := s.db.QueryRow(
		`SELECT `+slotCols+` FROM prayer_slots WHERE owner_id = ? AND status != 'released' LIMIT 1`,
		ownerID,
	)
	slot, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot by owner: %w", err)
	}
	return slot, nil
}

// ListActive returns slots in the active or skipped state, i.e. everything
// the reconciler should consider. Released slots are excluded.
func (s *SlotStore) ListActive() ([]model.PrayerSlot, error) {
	rows, err := s.db.Query(`SELECT ` + slotCols + ` FROM prayer_slots WHERE status IN ('active', 'skipped') ORDER BY time_range ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active slots: %w", err)
	}
	defer rows.Close()

	var slots []model.PrayerSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// ListReleased returns vacated slots whose windows are back in the pool.
func (s *SlotStore) ListReleased() ([]model.PrayerSlot, error) {
	rows, err := s.db.Query(`SELECT ` + slotCols + ` FROM prayer_slots WHERE status = 'released' ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list released slots: %w", err)
	}
	defer rows.Close()

	var slots []model.PrayerSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// ReplaceWindow atomically swaps a slot's time range for an owner's explicit
// change request.
func (s *SlotStore) ReplaceWindow(id, timeRange string) (*model.PrayerSlot, error) {
	_, err := s.db.Exec(
		`UPDATE prayer_slots SET time_range = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		timeRange, id,
	)
	if err != nil {
		return nil, fmt.Errorf("replace slot window: %w", err)
	}
	return s.GetByID(id)
}

// SetSkipWindow puts a slot into the skipped state for the given date span.
func (s *SlotStore) SetSkipWindow(id string, start, end time.Time) error {
	_, err := s.db.Exec(
		`UPDATE prayer_slots SET status = 'skipped', skip_start = ?, skip_end = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'active'`,
		start, end, id,
	)
	if err != nil {
		return fmt.Errorf("set skip window: %w", err)
	}
	return nil
}

// ClearSkipWindow returns a skipped slot to active.
func (s *SlotStore) ClearSkipWindow(id string) error {
	_, err := s.db.Exec(
		`UPDATE prayer_slots SET status = 'active', skip_start = NULL, skip_end = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'skipped'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("clear skip window: %w", err)
	}
	return nil
}

// CounterUpdate is the target state for a conditional counter write.
type CounterUpdate struct {
	MissedCount    int
	Status         model.SlotStatus
	LastAttendedAt *time.Time
	ClearOwner     bool
}

// UpdateCounters applies upd only if the slot's missed_count still equals
// prevMissed, so overlapping sweep/poll cycles cannot double-count a miss or
// double-reset on an attendance race. Returns ErrCounterConflict on a stale
// read.
func (s *SlotStore) UpdateCounters(id string, prevMissed int, upd CounterUpdate) error {
	query := `UPDATE prayer_slots SET missed_count = ?, status = ?, updated_at = CURRENT_TIMESTAMP`
	args := []any{upd.MissedCount, string(upd.Status)}

	if upd.LastAttendedAt != nil {
		query += `, last_attended_at = ?`
		args = append(args, upd.LastAttendedAt.UTC())
	}
	if upd.ClearOwner {
		query += `, owner_id = NULL`
	}
	query += ` WHERE id = ? AND missed_count = ? AND status != 'released'`
	args = append(args, id, prevMissed)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update slot counters: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrCounterConflict
	}
	return nil
}
