package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/fanout/internal/session"
)

// SessionRecord is a persisted worker session.
type SessionRecord struct {
	session.Allocation
	Status    session.Status `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Allocate records a new active worker session. A key may be reused only
// after its previous session was discarded.
func (db *DB) Allocate(ctx context.Context, a session.Allocation) error {
	now := formatTime(time.Now())
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM worker_sessions WHERE session_key = ?", a.SessionKey).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("check session %s: %w", a.SessionKey, err)
		case session.Status(status) != session.StatusDiscarded:
			return fmt.Errorf("%w: %s", session.ErrSessionExists, a.SessionKey)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO worker_sessions (session_key, mission_id, subtask_id, agent_id, label, delegated_by,
				origin_channel, origin_account, origin_thread, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET
				mission_id = excluded.mission_id, subtask_id = excluded.subtask_id, agent_id = excluded.agent_id,
				label = excluded.label, delegated_by = excluded.delegated_by,
				origin_channel = excluded.origin_channel, origin_account = excluded.origin_account,
				origin_thread = excluded.origin_thread,
				status = excluded.status, created_at = excluded.created_at, updated_at = excluded.updated_at
		`, a.SessionKey, a.MissionID, a.SubtaskID, a.AgentID, a.Label, a.DelegatedBy,
			a.Origin.Channel, a.Origin.Account, a.Origin.Thread, string(session.StatusActive), now, now)
		if err != nil {
			return fmt.Errorf("allocate session %s: %w", a.SessionKey, err)
		}
		return nil
	})
}

// Discard marks the session discarded.
func (db *DB) Discard(ctx context.Context, key string) error {
	return db.setSessionStatus(ctx, key, session.StatusDiscarded)
}

// Retain marks the session retained for inspection.
func (db *DB) Retain(ctx context.Context, key string) error {
	return db.setSessionStatus(ctx, key, session.StatusRetained)
}

func (db *DB) setSessionStatus(ctx context.Context, key string, status session.Status) error {
	result, err := db.ExecContext(ctx, `
		UPDATE worker_sessions SET status = ?, updated_at = ? WHERE session_key = ?
	`, string(status), formatTime(time.Now()), key)
	if err != nil {
		return fmt.Errorf("mark session %s %s: %w", key, status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, key)
	}
	return nil
}

// GetSession returns the session stored under key.
func (db *DB) GetSession(key string) (*SessionRecord, error) {
	rows, err := db.Query(sessionSelect+" WHERE session_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	records, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, key)
	}
	return &records[0], nil
}

// ListSessions lists sessions of a mission, or of every mission when
// missionID is empty.
func (db *DB) ListSessions(missionID string) ([]SessionRecord, error) {
	query := sessionSelect
	var args []any
	if missionID != "" {
		query += " WHERE mission_id = ?"
		args = append(args, missionID)
	}
	rows, err := db.Query(query+" ORDER BY created_at, session_key", args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanSessions(rows)
}

// PurgeRetainedSessions deletes retained and discarded sessions last
// updated before olderThan ago. Active sessions are never purged.
// Returns the number of sessions deleted.
func (db *DB) PurgeRetainedSessions(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`
		DELETE FROM worker_sessions WHERE status IN (?, ?) AND updated_at < ?
	`, string(session.StatusRetained), string(session.StatusDiscarded), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

const sessionSelect = `
	SELECT session_key, mission_id, subtask_id, agent_id, label, delegated_by,
		origin_channel, origin_account, origin_thread, status, created_at, updated_at
	FROM worker_sessions`

func scanSessions(rows *sql.Rows) ([]SessionRecord, error) {
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			r                    SessionRecord
			status               string
			createdAt, updatedAt string
		)
		err := rows.Scan(&r.SessionKey, &r.MissionID, &r.SubtaskID, &r.AgentID, &r.Label, &r.DelegatedBy,
			&r.Origin.Channel, &r.Origin.Account, &r.Origin.Thread, &status, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Status = session.Status(status)
		r.CreatedAt, _ = parseTime(createdAt)
		r.UpdatedAt, _ = parseTime(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
