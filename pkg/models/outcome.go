package models

import "fmt"

// FailureReason classifies why a launched subtask failed.
type FailureReason string

const (
	// FailureSessionAllocation indicates the worker session could not be bound.
	FailureSessionAllocation FailureReason = "session_allocation_failed"
	// FailureWorker indicates the worker runtime reported an error.
	FailureWorker FailureReason = "worker_failure"
	// FailureTimeout indicates the worker runtime gave up after its timeout.
	FailureTimeout FailureReason = "worker_timeout"
)

// SkipReason classifies why a subtask was never launched.
type SkipReason string

const (
	// SkipDependencyFailed indicates an upstream subtask failed or was skipped.
	SkipDependencyFailed SkipReason = "dependency_failed"
	// SkipSpawnBudgetExhausted indicates the mission spawn budget ran out.
	SkipSpawnBudgetExhausted SkipReason = "spawn_budget_exhausted"
	// SkipMissionCancelled indicates the mission was cancelled or timed out.
	SkipMissionCancelled SkipReason = "mission_cancelled"
)

// Outcome is the terminal payload of a subtask. It is one of Success, Failure or Skip.
type Outcome interface {
	// State returns the terminal state the outcome corresponds to.
	State() SubtaskState
	// Summary returns a one-line human readable description.
	Summary() string
	isOutcome()
}

// Success carries the worker's result.
type Success struct {
	Result string
}

// Failure carries the reason a launched subtask failed.
type Failure struct {
	Reason  FailureReason
	Message string
}

// Skip carries the reason a subtask was never launched.
type Skip struct {
	Reason SkipReason
	Detail string
}

func (Success) State() SubtaskState { return SubtaskSucceeded }
func (Failure) State() SubtaskState { return SubtaskFailed }
func (Skip) State() SubtaskState    { return SubtaskSkipped }

func (s Success) Summary() string { return s.Result }

func (f Failure) Summary() string {
	if f.Message == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

func (s Skip) Summary() string {
	if s.Detail == "" {
		return string(s.Reason)
	}
	return fmt.Sprintf("%s: %s", s.Reason, s.Detail)
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}
func (Skip) isOutcome()    {}
