package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// MissionRecord is a persisted mission summary.
type MissionRecord struct {
	ID            string               `json:"id"`
	Label         string               `json:"label"`
	Requester     string               `json:"requester"`
	CleanupPolicy models.CleanupPolicy `json:"cleanup_policy"`
	SpawnBudget   int                  `json:"spawn_budget"`
	State         models.MissionState  `json:"state"`
	// Outcome and Report are empty until the mission closes.
	Outcome   models.MissionOutcome `json:"outcome,omitempty"`
	Report    string                `json:"report,omitempty"`
	PID       int                   `json:"pid"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	ClosedAt  *time.Time            `json:"closed_at,omitempty"`
}

// SubtaskRecord is a persisted subtask row.
type SubtaskRecord struct {
	MissionID   string              `json:"mission_id"`
	ID          string              `json:"id"`
	Position    int                 `json:"position"`
	AgentID     string              `json:"agent_id"`
	Instruction string              `json:"instruction"`
	DependsOn   []string            `json:"depends_on"`
	State       models.SubtaskState `json:"state"`
	SessionKey  string              `json:"session_key,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// SaveMission stores the descriptive fields of a mission and its subtasks.
// States already recorded from transitions are not overwritten.
func (db *DB) SaveMission(ctx context.Context, m *models.Mission) error {
	now := formatTime(time.Now())
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO missions (id, label, requester, cleanup_policy, spawn_budget, state, pid, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				label = excluded.label, requester = excluded.requester,
				cleanup_policy = excluded.cleanup_policy, spawn_budget = excluded.spawn_budget,
				pid = excluded.pid, created_at = excluded.created_at
		`, m.ID, m.Label, m.Requester.Identity, string(m.CleanupPolicy), m.SpawnBudget, string(m.State),
			os.Getpid(), formatTime(m.CreatedAt), now)
		if err != nil {
			return fmt.Errorf("save mission %s: %w", m.ID, err)
		}

		for i, st := range m.Subtasks {
			deps, err := json.Marshal(nonNil(st.DependsOn))
			if err != nil {
				return fmt.Errorf("marshal dependencies of %s: %w", st.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO subtasks (mission_id, id, position, agent_id, instruction, depends_on, state, session_key, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(mission_id, id) DO UPDATE SET
					position = excluded.position, agent_id = excluded.agent_id,
					instruction = excluded.instruction, depends_on = excluded.depends_on
			`, m.ID, st.ID, i, st.AgentID, st.Instruction, string(deps), string(st.State), st.SessionKey, now)
			if err != nil {
				return fmt.Errorf("save subtask %s/%s: %w", m.ID, st.ID, err)
			}
		}
		return nil
	})
}

// RecordTransition applies one mission or subtask transition.
func (db *DB) RecordTransition(ctx context.Context, t models.Transition) error {
	at := formatTime(t.At)
	if t.At.IsZero() {
		at = formatTime(time.Now())
	}

	if t.IsMission() {
		var outcome string
		if models.MissionState(t.To) == models.MissionClosed {
			outcome = t.Reason
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO missions (id, state, outcome, pid, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state, updated_at = excluded.updated_at,
				outcome = CASE WHEN excluded.outcome != '' THEN excluded.outcome ELSE missions.outcome END
		`, t.MissionID, t.To, outcome, os.Getpid(), at, at)
		if err != nil {
			return fmt.Errorf("record mission transition %s: %w", t.MissionID, err)
		}
		return nil
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO subtasks (mission_id, id, agent_id, state, session_key, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id, id) DO UPDATE SET
			state = excluded.state, reason = excluded.reason, updated_at = excluded.updated_at,
			session_key = CASE WHEN excluded.session_key != '' THEN excluded.session_key ELSE subtasks.session_key END
	`, t.MissionID, t.SubtaskID, t.AgentID, t.To, t.SessionKey, t.Reason, at)
	if err != nil {
		return fmt.Errorf("record subtask transition %s/%s: %w", t.MissionID, t.SubtaskID, err)
	}
	return nil
}

// SaveReport stores the final report of a closed mission.
func (db *DB) SaveReport(ctx context.Context, r *models.MissionReport) error {
	closedAt := formatTime(r.ClosedAt)
	result, err := db.ExecContext(ctx, `
		UPDATE missions SET outcome = ?, report = ?, closed_at = ?, updated_at = ? WHERE id = ?
	`, string(r.Outcome), r.Text, closedAt, closedAt, r.MissionID)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.MissionID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: mission %s", ErrNotFound, r.MissionID)
	}
	return nil
}

// GetMission retrieves a mission by ID.
func (db *DB) GetMission(id string) (*MissionRecord, error) {
	rows, err := db.Query(missionSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	missions, err := scanMissions(rows)
	if err != nil {
		return nil, err
	}
	if len(missions) == 0 {
		return nil, fmt.Errorf("%w: mission %s", ErrNotFound, id)
	}
	return &missions[0], nil
}

// ListMissions lists missions, newest first. limit <= 0 means no limit.
// A non-empty state filters by mission state.
func (db *DB) ListMissions(state models.MissionState, limit int) ([]MissionRecord, error) {
	query := missionSelect
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return scanMissions(rows)
}

// ListSubtasks lists the subtasks of a mission in descriptor order.
func (db *DB) ListSubtasks(missionID string) ([]SubtaskRecord, error) {
	rows, err := db.Query(`
		SELECT mission_id, id, position, agent_id, instruction, depends_on, state, session_key, reason, updated_at
		FROM subtasks WHERE mission_id = ? ORDER BY position, id
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []SubtaskRecord
	for rows.Next() {
		var (
			s         SubtaskRecord
			deps      string
			state     string
			updatedAt string
		)
		if err := rows.Scan(&s.MissionID, &s.ID, &s.Position, &s.AgentID, &s.Instruction, &deps,
			&state, &s.SessionKey, &s.Reason, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		if deps != "" {
			if err := json.Unmarshal([]byte(deps), &s.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies of %s: %w", s.ID, err)
			}
		}
		s.State = models.SubtaskState(state)
		s.UpdatedAt, _ = parseTime(updatedAt)
		subtasks = append(subtasks, s)
	}
	return subtasks, rows.Err()
}

const missionSelect = `
	SELECT id, label, requester, cleanup_policy, spawn_budget, state, outcome, report, pid,
		created_at, updated_at, closed_at
	FROM missions`

func scanMissions(rows *sql.Rows) ([]MissionRecord, error) {
	defer rows.Close()

	var missions []MissionRecord
	for rows.Next() {
		var (
			m                    MissionRecord
			cleanup, state       string
			outcome              string
			createdAt, updatedAt string
			closedAt             sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Label, &m.Requester, &cleanup, &m.SpawnBudget, &state, &outcome,
			&m.Report, &m.PID, &createdAt, &updatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		m.CleanupPolicy = models.CleanupPolicy(cleanup)
		m.State = models.MissionState(state)
		m.Outcome = models.MissionOutcome(outcome)
		m.CreatedAt, _ = parseTime(createdAt)
		m.UpdatedAt, _ = parseTime(updatedAt)
		m.ClosedAt = parseNullableTime(closedAt)
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
