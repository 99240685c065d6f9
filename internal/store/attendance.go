package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ewhitmore/vigil/internal/model"
)

type AttendanceStore struct {
	db *sql.DB
}

func NewAttendanceStore(db *sql.DB) *AttendanceStore {
	return &AttendanceStore{db: db}
}

func scanAttendance(scanner interface{ Scan(...any) error }) (*model.AttendanceRecord, error) {
	var r model.AttendanceRecord
	var joinTime, leaveTime sql.NullTime
	var sourceMeetingID sql.NullString

	err := scanner.Scan(
		&r.ID, &r.OwnerID, &r.Date, &r.Outcome,
		&joinTime, &leaveTime, &sourceMeetingID, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if joinTime.Valid {
		r.JoinTime = &joinTime.Time
	}
	if leaveTime.Valid {
		r.LeaveTime = &leaveTime.Time
	}
	if sourceMeetingID.Valid {
		r.SourceMeetingID = &sourceMeetingID.String
	}
	return &r, nil
}

const attendanceCols = `id, owner_id, date, outcome, join_time, leave_time, source_meeting_id, created_at`

// UpsertAttended records a positive attendance match for (ownerID, date).
// An existing missed row for the day is overwritten; an existing attended
// row is left untouched, so attended is a one-way ratchet for a given date.
// Returns whether the stored outcome changed.
func (s *AttendanceStore) UpsertAttended(ownerID, date string, joinTime, leaveTime *time.Time, sourceMeetingID *string) (bool, error) {
	var jt, lt sql.NullTime
	if joinTime != nil {
		jt = sql.NullTime{Time: joinTime.UTC(), Valid: true}
	}
	if leaveTime != nil {
		lt = sql.NullTime{Time: leaveTime.UTC(), Valid: true}
	}
	var src sql.NullString
	if sourceMeetingID != nil {
		src = sql.NullString{String: *sourceMeetingID, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO attendance_records (owner_id, date, outcome, join_time, leave_time, source_meeting_id)
		 VALUES (?, ?, 'attended', ?, ?, ?)
		 ON CONFLICT(owner_id, date) DO UPDATE SET
		   outcome = 'attended',
		   join_time = excluded.join_time,
		   leave_time = excluded.leave_time,
		   source_meeting_id = excluded.source_meeting_id
		 WHERE attendance_records.outcome != 'attended'`,
		ownerID, date, jt, lt, src,
	)
	if err != nil {
		return false, fmt.Errorf("upsert attended: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertMissed records a missed day for (ownerID, date). A row of either
// outcome already present for the day wins; a later sweep never downgrades
// an attended record. Returns whether the row was actually created, which
// is the signal the sweep uses to increment the miss counter exactly once.
func (s *AttendanceStore) InsertMissed(ownerID, date string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO attendance_records (owner_id, date, outcome) VALUES (?, ?, 'missed')
		 ON CONFLICT(owner_id, date) DO NOTHING`,
		ownerID, date,
	)
	if err != nil {
		return false, fmt.Errorf("insert missed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpsertManual records an operator-entered outcome with a manual source
// marker, overwriting whatever is present for the day.
func (s *AttendanceStore) UpsertManual(ownerID, date string, outcome model.Outcome, now time.Time) error {
	src := fmt.Sprintf("manual_%d", now.Unix())
	_, err := s.db.Exec(
		`INSERT INTO attendance_records (owner_id, date, outcome, source_meeting_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, date) DO UPDATE SET
		   outcome = excluded.outcome,
		   source_meeting_id = excluded.source_meeting_id`,
		ownerID, date, string(outcome), src,
	)
	if err != nil {
		return fmt.Errorf("upsert manual attendance: %w", err)
	}
	return nil
}

func (s *AttendanceStore) Get(ownerID, date string) (*model.AttendanceRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+attendanceCols+` FROM attendance_records WHERE owner_id = ? AND date = ?`,
		ownerID, date,
	)
	r, err := scanAttendance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return r, nil
}

// ListByDate returns every record for one calendar date.
func (s *AttendanceStore) ListByDate(date string) ([]model.AttendanceRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+attendanceCols+` FROM attendance_records WHERE date = ? ORDER BY owner_id ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("list attendance by date: %w", err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ListBetween returns records with fromDate <= date <= toDate, ordered by
// owner then date. Date keys sort lexically.
func (s *AttendanceStore) ListBetween(fromDate, toDate string) ([]model.AttendanceRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+attendanceCols+` FROM attendance_records WHERE date >= ? AND date <= ? ORDER BY owner_id ASC, date ASC`,
		fromDate, toDate,
	)
	if err != nil {
		return nil, fmt.Errorf("list attendance between: %w", err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
