// Package validate turns untrusted subtask descriptors into a mission skeleton.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/fanout/internal/delegation"
	"github.com/ShayCichocki/fanout/internal/graph"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// Mode fixes how dependencies between descriptors are derived.
type Mode string

const (
	// ModeGraph honours "after" and chains the subtasks when none declares one.
	ModeGraph Mode = "graph"
	// ModeSequential always chains subtasks in descriptor order and ignores "after".
	ModeSequential Mode = "sequential"
	// ModeParallel never chains; every subtask is independent and "after" is ignored.
	ModeParallel Mode = "parallel"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	return m == ModeGraph || m == ModeSequential || m == ModeParallel
}

// SubtaskSpec is one raw descriptor as supplied by the caller.
type SubtaskSpec struct {
	ID      string   `json:"id" yaml:"id"`
	AgentID string   `json:"agentId" yaml:"agentId"`
	Task    string   `json:"task" yaml:"task"`
	After   []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// Request is a mission submission prior to validation.
type Request struct {
	Label          string
	Subtasks       []SubtaskSpec
	Cleanup        models.CleanupPolicy
	MaxTotalSpawns int
	Requester      models.Requester
	Mode           Mode
}

// Validate checks req against the requester's allow-list and returns a mission
// skeleton with every subtask Pending. The returned mission has no ID; the
// caller assigns one. Validate has no side effects.
func Validate(req Request, allow delegation.AllowList) (*models.Mission, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeGraph
	}
	if !mode.Valid() {
		return nil, &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf("unknown mode %q", mode)}
	}

	cleanup := req.Cleanup
	if cleanup == "" {
		cleanup = models.CleanupKeep
	}
	if !cleanup.Valid() {
		return nil, &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf("cleanup must be %q or %q, got %q", models.CleanupDelete, models.CleanupKeep, cleanup)}
	}
	if req.MaxTotalSpawns < 0 {
		return nil, &Error{Kind: KindInvalidRequest, Detail: fmt.Sprintf("maxTotalSpawns must not be negative, got %d", req.MaxTotalSpawns)}
	}

	if len(req.Subtasks) == 0 {
		return nil, &Error{Kind: KindMalformedSubtask, Detail: "at least one subtask is required"}
	}

	for i, spec := range req.Subtasks {
		if err := checkWellFormed(i, spec); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(req.Subtasks))
	for _, spec := range req.Subtasks {
		id := strings.TrimSpace(spec.ID)
		if seen[id] {
			return nil, &Error{Kind: KindDuplicateSubtaskID, SubtaskID: id}
		}
		seen[id] = true
	}

	requester := req.Requester.Identity
	for _, spec := range req.Subtasks {
		agent := strings.TrimSpace(spec.AgentID)
		if !allow.Permits(requester, agent) {
			return nil, &Error{
				Kind:      KindDelegationForbidden,
				SubtaskID: strings.TrimSpace(spec.ID),
				Detail:    fmt.Sprintf("requester %q may not delegate to agent %q", requester, agent),
				Allowed:   allow.Names(),
			}
		}
	}

	subtasks := make([]*models.Subtask, len(req.Subtasks))
	for i, spec := range req.Subtasks {
		subtasks[i] = &models.Subtask{
			ID:          strings.TrimSpace(spec.ID),
			AgentID:     strings.TrimSpace(spec.AgentID),
			Instruction: spec.Task,
			State:       models.SubtaskPending,
		}
	}
	applyDependencies(mode, req.Subtasks, subtasks)

	g := graph.New()
	if err := g.Build(subtasks); err != nil {
		var depErr *graph.DependencyError
		var cycleErr *graph.CycleError
		switch {
		case errors.As(err, &depErr):
			return nil, &Error{
				Kind:      KindDanglingDependency,
				SubtaskID: depErr.SubtaskID,
				Detail:    fmt.Sprintf("after references unknown subtask %q", depErr.DependsOn),
			}
		case errors.As(err, &cycleErr):
			return nil, &Error{
				Kind:   KindCyclicDependency,
				Detail: strings.Join(cycleErr.Path, " -> "),
				Cycle:  cycleErr.Path,
			}
		default:
			return nil, fmt.Errorf("build dependency graph: %w", err)
		}
	}

	budget := req.MaxTotalSpawns
	if budget == 0 {
		budget = len(subtasks)
	}

	return &models.Mission{
		Label:         strings.TrimSpace(req.Label),
		Requester:     req.Requester,
		CleanupPolicy: cleanup,
		SpawnBudget:   budget,
		State:         models.MissionOpen,
		CreatedAt:     time.Now(),
		Subtasks:      subtasks,
	}, nil
}

func checkWellFormed(index int, spec SubtaskSpec) error {
	id := strings.TrimSpace(spec.ID)
	var missing []string
	if id == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(spec.AgentID) == "" {
		missing = append(missing, "agentId")
	}
	if strings.TrimSpace(spec.Task) == "" {
		missing = append(missing, "task")
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{
		Kind:      KindMalformedSubtask,
		SubtaskID: id,
		Detail:    fmt.Sprintf("descriptor %d is missing %s", index, strings.Join(missing, ", ")),
	}
}

// applyDependencies fills DependsOn according to mode. In graph mode a
// mission of several subtasks with no declared ordering is chained so that
// delegation stays sequential unless the caller asks for parallelism.
func applyDependencies(mode Mode, specs []SubtaskSpec, subtasks []*models.Subtask) {
	chain := func() {
		for i := 1; i < len(subtasks); i++ {
			subtasks[i].DependsOn = []string{subtasks[i-1].ID}
		}
	}

	switch mode {
	case ModeSequential:
		chain()
	case ModeParallel:
		// Independent subtasks.
	default:
		declared := false
		for i, spec := range specs {
			subtasks[i].DependsOn = dedupe(spec.After)
			if len(subtasks[i].DependsOn) > 0 {
				declared = true
			}
		}
		if !declared && len(subtasks) > 1 {
			chain()
		}
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
