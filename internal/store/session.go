package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionStore tracks which provider session instances have already been
// reconciled, so the history poller never processes one twice.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) WasProcessed(sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM processed_sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed session: %w", err)
	}
	return true, nil
}

func (s *SessionStore) MarkProcessed(sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO processed_sessions (session_id) VALUES (?) ON CONFLICT(session_id) DO NOTHING`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session processed: %w", err)
	}
	return nil
}

// PruneBefore drops markers older than the cutoff. The history poller only
// looks back a bounded window, so old markers are dead weight.
func (s *SessionStore) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM processed_sessions WHERE processed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune processed sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
