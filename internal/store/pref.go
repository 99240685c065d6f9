package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ewhitmore/vigil/internal/model"
)

// PrefStore holds per-owner preferences: quiet hours, active weekdays, and
// browser push subscriptions.
type PrefStore struct {
	db *sql.DB
}

func NewPrefStore(db *sql.DB) *PrefStore {
	return &PrefStore{db: db}
}

// GetQuietHours returns the owner's quiet-hours preference, or nil when the
// owner has never configured one.
func (s *PrefStore) GetQuietHours(ownerID string) (*model.QuietHours, error) {
	var q model.QuietHours
	var enabled int
	err := s.db.QueryRow(
		`SELECT owner_id, enabled, start_time, end_time FROM quiet_hours WHERE owner_id = ?`,
		ownerID,
	).Scan(&q.OwnerID, &enabled, &q.Start, &q.End)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quiet hours: %w", err)
	}
	q.Enabled = enabled != 0
	return &q, nil
}

func (s *PrefStore) SetQuietHours(q model.QuietHours) error {
	enabled := 0
	if q.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO quiet_hours (owner_id, enabled, start_time, end_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET enabled = excluded.enabled, start_time = excluded.start_time, end_time = excluded.end_time`,
		q.OwnerID, enabled, q.Start, q.End,
	)
	if err != nil {
		return fmt.Errorf("set quiet hours: %w", err)
	}
	return nil
}

// GetSchedule returns the weekdays an owner's slot is active on. An empty
// set means every day.
func (s *PrefStore) GetSchedule(ownerID string) (model.WeekdaySet, error) {
	rows, err := s.db.Query(`SELECT weekday FROM owner_schedules WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get owner schedule: %w", err)
	}
	defer rows.Close()

	set := model.WeekdaySet{}
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan weekday: %w", err)
		}
		set[time.Weekday(d)] = true
	}
	return set, rows.Err()
}

// SetSchedule replaces the owner's active weekdays. An empty slice clears
// the schedule, restoring the every-day default.
func (s *PrefStore) SetSchedule(ownerID string, days []time.Weekday) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM owner_schedules WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clear owner schedule: %w", err)
	}
	for _, d := range days {
		if _, err := tx.Exec(
			`INSERT INTO owner_schedules (owner_id, weekday) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			ownerID, int(d),
		); err != nil {
			return fmt.Errorf("insert weekday: %w", err)
		}
	}
	return tx.Commit()
}

// --- Push subscription methods ---

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.OwnerID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const subscriptionCols = `id, owner_id, endpoint, p256dh_key, auth_key, created_at`

func (s *PrefStore) CreateSubscription(ownerID, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (owner_id, endpoint, p256dh_key, auth_key) VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET owner_id = excluded.owner_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		ownerID, endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *PrefStore) ListSubscriptionsByOwner(ownerID string) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE owner_id = ? ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PrefStore) DeleteSubscriptionByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
