package models

import "time"

// MissionState represents the lifecycle of a mission.
type MissionState string

const (
	// MissionOpen indicates subtasks are still pending or running.
	MissionOpen MissionState = "open"
	// MissionClosing indicates every subtask is terminal and the report is being produced.
	MissionClosing MissionState = "closing"
	// MissionClosed indicates the report was handed off.
	MissionClosed MissionState = "closed"
)

// CleanupPolicy decides what happens to worker sessions once a mission closes.
type CleanupPolicy string

const (
	// CleanupDelete discards every bound worker session.
	CleanupDelete CleanupPolicy = "delete"
	// CleanupKeep leaves worker sessions addressable for later inspection.
	CleanupKeep CleanupPolicy = "keep"
)

// Valid returns true if the policy is a known value.
func (p CleanupPolicy) Valid() bool {
	return p == CleanupDelete || p == CleanupKeep
}

// Origin is the delivery address of the requester.
type Origin struct {
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
	Thread  string `json:"thread,omitempty" yaml:"thread,omitempty"`
}

// Requester identifies who asked for a mission and where to answer.
type Requester struct {
	// SessionKey is the requester's own session; worker sessions never reuse it.
	SessionKey string `json:"session_key"`
	// Identity is the requester's agent identity used for allow-list lookups.
	Identity string `json:"identity"`
	// DisplayKey is how the requester is addressed in the final announcement.
	DisplayKey string `json:"display_key,omitempty"`
	// Origin is where the final report is delivered.
	Origin Origin `json:"origin"`
}

// Mission is one delegation request decomposed into a DAG of subtasks.
type Mission struct {
	ID            string        `json:"id"`
	Label         string        `json:"label"`
	Requester     Requester     `json:"requester"`
	CleanupPolicy CleanupPolicy `json:"cleanup_policy"`
	// SpawnBudget is the hard ceiling on subtasks ever launched.
	SpawnBudget int          `json:"spawn_budget"`
	State       MissionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	// Subtasks are kept in descriptor order.
	Subtasks []*Subtask `json:"subtasks"`
}

// Subtask returns the subtask with the given ID, or nil.
func (m *Mission) Subtask(id string) *Subtask {
	for _, t := range m.Subtasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy of the mission and its subtasks.
func (m *Mission) Clone() *Mission {
	c := *m
	c.Subtasks = make([]*Subtask, len(m.Subtasks))
	for i, t := range m.Subtasks {
		c.Subtasks[i] = t.Clone()
	}
	return &c
}
