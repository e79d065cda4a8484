package models

// SubtaskState represents the lifecycle position of a subtask.
type SubtaskState string

const (
	// SubtaskPending indicates the subtask exists but readiness has not been evaluated.
	SubtaskPending SubtaskState = "pending"
	// SubtaskBlocked indicates at least one dependency has not succeeded yet.
	SubtaskBlocked SubtaskState = "blocked"
	// SubtaskReady indicates every dependency succeeded and the subtask awaits dispatch.
	SubtaskReady SubtaskState = "ready"
	// SubtaskRunning indicates the subtask was dispatched to a worker.
	SubtaskRunning SubtaskState = "running"
	// SubtaskSucceeded indicates the worker returned a result.
	SubtaskSucceeded SubtaskState = "succeeded"
	// SubtaskFailed indicates the subtask could not be completed.
	SubtaskFailed SubtaskState = "failed"
	// SubtaskSkipped indicates the subtask was never launched and never will be.
	SubtaskSkipped SubtaskState = "skipped"
)

// rank orders states so that transitions only move forward.
// Blocked and Ready share a tier below Ready so Blocked -> Ready is permitted
// but Ready -> Blocked is not.
func (s SubtaskState) rank() int {
	switch s {
	case SubtaskPending:
		return 0
	case SubtaskBlocked:
		return 1
	case SubtaskReady:
		return 2
	case SubtaskRunning:
		return 3
	case SubtaskSucceeded, SubtaskFailed, SubtaskSkipped:
		return 4
	default:
		return -1
	}
}

// Valid returns true if the state is a known value.
func (s SubtaskState) Valid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transition is possible.
func (s SubtaskState) IsTerminal() bool {
	return s.rank() == 4
}

// CanTransition reports whether moving from s to next keeps the state monotonic.
// Only Ready subtasks start running, only Running subtasks succeed, and a
// Ready subtask may fail before launch when its session cannot be bound.
// Any non-terminal subtask may be skipped.
func (s SubtaskState) CanTransition(next SubtaskState) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	switch next {
	case SubtaskSucceeded, SubtaskFailed:
		return s == SubtaskRunning || (next == SubtaskFailed && s == SubtaskReady)
	case SubtaskRunning:
		return s == SubtaskReady
	case SubtaskSkipped:
		return true
	}
	return next.rank() > s.rank()
}

// Subtask is one node of a mission's dependency graph.
type Subtask struct {
	// ID is unique within the mission and supplied by the caller.
	ID string `json:"id"`
	// AgentID is the worker identity the subtask is delegated to.
	AgentID string `json:"agent_id"`
	// Instruction is the task text. Upstream results are appended once before launch.
	Instruction string `json:"instruction"`
	// DependsOn lists sibling subtask IDs that must succeed first.
	DependsOn []string `json:"depends_on,omitempty"`
	// State is the current lifecycle state.
	State SubtaskState `json:"state"`
	// SessionKey is the isolated worker session bound at launch.
	SessionKey string `json:"session_key,omitempty"`
	// Outcome is set exactly once, when the subtask reaches a terminal state.
	Outcome Outcome `json:"-"`
}

// Result returns the worker output if the subtask succeeded.
func (t *Subtask) Result() (string, bool) {
	if s, ok := t.Outcome.(Success); ok {
		return s.Result, true
	}
	return "", false
}

// Clone returns a deep copy safe to hand outside the scheduler.
func (t *Subtask) Clone() *Subtask {
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &c
}
