package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// InterruptedMission is a mission left open by a process that is gone.
type InterruptedMission struct {
	MissionID string
	Label     string
	PID       int
	CreatedAt time.Time
	// Unfinished counts subtasks that never reached a terminal state.
	Unfinished int
}

// FindInterrupted returns missions that are not closed and whose owning
// process no longer runs. Missions owned by this process are ignored.
func (db *DB) FindInterrupted() ([]InterruptedMission, error) {
	missions, err := db.ListMissions("", 0)
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var interrupted []InterruptedMission
	for _, m := range missions {
		if m.State == models.MissionClosed || m.PID == self {
			continue
		}
		if m.PID > 0 && isProcessAlive(m.PID) {
			continue
		}

		subtasks, err := db.ListSubtasks(m.ID)
		if err != nil {
			return nil, err
		}
		unfinished := 0
		for _, s := range subtasks {
			if !s.State.IsTerminal() {
				unfinished++
			}
		}
		interrupted = append(interrupted, InterruptedMission{
			MissionID:  m.ID,
			Label:      m.Label,
			PID:        m.PID,
			CreatedAt:  m.CreatedAt,
			Unfinished: unfinished,
		})
	}
	return interrupted, nil
}

// CloseInterrupted closes a mission whose process died: unfinished subtasks
// become skipped with mission_cancelled and its active sessions are retained
// so they can be inspected or purged later.
func (db *DB) CloseInterrupted(ctx context.Context, missionID string) error {
	now := formatTime(time.Now())
	reason := string(models.SkipMissionCancelled) + ": owning process exited"

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE missions SET state = ?, outcome = CASE WHEN outcome = '' THEN ? ELSE outcome END,
				closed_at = ?, updated_at = ?
			WHERE id = ? AND state != ?
		`, string(models.MissionClosed), string(models.OutcomeAllFailed), now, now, missionID, string(models.MissionClosed))
		if err != nil {
			return fmt.Errorf("close mission %s: %w", missionID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: open mission %s", ErrNotFound, missionID)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE subtasks SET state = ?, reason = ?, updated_at = ?
			WHERE mission_id = ? AND state NOT IN (?, ?, ?)
		`, string(models.SubtaskSkipped), reason, now, missionID,
			string(models.SubtaskSucceeded), string(models.SubtaskFailed), string(models.SubtaskSkipped)); err != nil {
			return fmt.Errorf("skip subtasks of %s: %w", missionID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE worker_sessions SET status = ?, updated_at = ? WHERE mission_id = ? AND status = ?
		`, string(session.StatusRetained), now, missionID, string(session.StatusActive)); err != nil {
			return fmt.Errorf("retain sessions of %s: %w", missionID, err)
		}
		return nil
	})
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	// to check if the process actually exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
