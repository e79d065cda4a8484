package models

import "time"

// MissionOutcome summarises how a mission ended.
type MissionOutcome string

const (
	// OutcomeAllSucceeded indicates every subtask succeeded.
	OutcomeAllSucceeded MissionOutcome = "AllSucceeded"
	// OutcomePartialFailure indicates a mix of succeeded and unsuccessful subtasks.
	OutcomePartialFailure MissionOutcome = "PartialFailure"
	// OutcomeAllFailed indicates no subtask succeeded.
	OutcomeAllFailed MissionOutcome = "AllFailed"
)

// ReportEntry is the fate of one subtask.
type ReportEntry struct {
	SubtaskID string       `json:"subtask_id"`
	AgentID   string       `json:"agent_id"`
	Outcome   SubtaskState `json:"outcome"`
	Summary   string       `json:"summary"`
}

// MissionReport is produced exactly once per mission when it closes.
type MissionReport struct {
	MissionID string         `json:"mission_id"`
	Label     string         `json:"label"`
	Entries   []ReportEntry  `json:"entries"`
	Outcome   MissionOutcome `json:"outcome"`
	Text      string         `json:"text"`
	ClosedAt  time.Time      `json:"closed_at"`
}

// Transition is emitted whenever a subtask or the mission changes state.
// SubtaskID is empty for mission-level transitions.
type Transition struct {
	MissionID  string    `json:"mission_id"`
	SubtaskID  string    `json:"subtask_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// IsMission reports whether the transition concerns the mission itself.
func (t Transition) IsMission() bool {
	return t.SubtaskID == ""
}
