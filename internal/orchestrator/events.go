package orchestrator

import (
	"time"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventMissionAccepted indicates a mission passed validation and started.
	EventMissionAccepted EventType = "mission_accepted"
	// EventMissionClosing indicates every subtask reached a terminal state.
	EventMissionClosing EventType = "mission_closing"
	// EventMissionClosed indicates the report was handed off.
	EventMissionClosed EventType = "mission_closed"
	// EventSubtaskBlocked indicates a subtask is waiting on dependencies.
	EventSubtaskBlocked EventType = "subtask_blocked"
	// EventSubtaskQueued indicates a subtask is ready and queued for launch.
	EventSubtaskQueued EventType = "subtask_queued"
	// EventSubtaskStarted indicates a worker was dispatched.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskSucceeded indicates a worker returned a result.
	EventSubtaskSucceeded EventType = "subtask_succeeded"
	// EventSubtaskFailed indicates a worker or its session failed.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventSubtaskSkipped indicates a subtask will never run.
	EventSubtaskSkipped EventType = "subtask_skipped"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events are used to update the TUI and track progress.
type OrchestratorEvent struct {
	Type      EventType
	MissionID string
	// SubtaskID is empty for mission events.
	SubtaskID string
	AgentID   string
	// Message carries the skip/failure reason or the mission outcome.
	Message   string
	Timestamp time.Time
}

// eventFromTransition maps a state transition onto an event type.
func eventFromTransition(t models.Transition) OrchestratorEvent {
	ev := OrchestratorEvent{
		MissionID: t.MissionID,
		SubtaskID: t.SubtaskID,
		AgentID:   t.AgentID,
		Message:   t.Reason,
		Timestamp: t.At,
	}

	if t.IsMission() {
		switch models.MissionState(t.To) {
		case models.MissionOpen:
			ev.Type = EventMissionAccepted
		case models.MissionClosing:
			ev.Type = EventMissionClosing
		default:
			ev.Type = EventMissionClosed
		}
		return ev
	}

	switch models.SubtaskState(t.To) {
	case models.SubtaskBlocked:
		ev.Type = EventSubtaskBlocked
	case models.SubtaskReady:
		ev.Type = EventSubtaskQueued
	case models.SubtaskRunning:
		ev.Type = EventSubtaskStarted
	case models.SubtaskSucceeded:
		ev.Type = EventSubtaskSucceeded
	case models.SubtaskFailed:
		ev.Type = EventSubtaskFailed
	default:
		ev.Type = EventSubtaskSkipped
	}
	return ev
}
