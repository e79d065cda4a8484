// Package graph provides the dependency graph behind a mission's subtasks.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the subtask graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a dependency names a subtask outside the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// CycleError describes one cycle found while building the graph.
type CycleError struct {
	// Path lists the subtask IDs on the cycle; the first ID is repeated at the end.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// DependencyError describes a dependency on a subtask that does not exist.
type DependencyError struct {
	SubtaskID string
	DependsOn string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("subtask %s depends on unknown subtask %s", e.SubtaskID, e.DependsOn)
}

func (e *DependencyError) Unwrap() error { return ErrUnknownDependency }

// Readiness is the classification of a non-terminal subtask against its dependencies.
type Readiness int

const (
	// Waiting means at least one dependency has not reached a terminal state.
	Waiting Readiness = iota
	// Ready means every dependency succeeded.
	Ready
	// Doomed means a dependency failed or was skipped, so the subtask can never run.
	Doomed
)

// DependencyGraph represents a directed acyclic graph of subtask dependencies.
// Subtasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves descriptor order for deterministic iteration.
	order []string
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on.
	edges map[string][]string
	// dependents is the reverse of edges.
	dependents map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]*models.Subtask),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from subtasks in descriptor order.
// Returns a *DependencyError for unknown dependencies or a *CycleError if the
// edges form a cycle.
func (g *DependencyGraph) Build(subtasks []*models.Subtask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d subtasks", len(subtasks))

	// First pass: register all subtasks as nodes.
	for _, st := range subtasks {
		if _, dup := g.nodes[st.ID]; !dup {
			g.order = append(g.order, st.ID)
		}
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return &DependencyError{SubtaskID: st.ID, DependsOn: depID}
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], st.ID)
		}
	}

	if path := g.findCycleLocked(); path != nil {
		return &CycleError{Path: path}
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// findCycleLocked runs a depth-first search with coloring and returns the
// first cycle found, or nil. Caller must hold g.mu.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge: the cycle is the stack suffix starting at depID.
				for i, s := range stack {
					if s == depID {
						cycle = append(append([]string(nil), stack[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns subtask IDs so that every dependency comes before
// its dependents. Ties are broken by descriptor order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if path := g.findCycleLocked(); path != nil {
		return nil, &CycleError{Path: path}
	}

	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.edges[id])
	}

	result := make([]string, 0, len(g.order))
	emitted := make(map[string]bool, len(g.order))
	for len(result) < len(g.order) {
		// Pick the earliest descriptor whose dependencies are all emitted.
		for _, id := range g.order {
			if emitted[id] || indegree[id] > 0 {
				continue
			}
			emitted[id] = true
			result = append(result, id)
			for _, dep := range g.dependents[id] {
				indegree[dep]--
			}
			break
		}
	}

	return result, nil
}

// Classify evaluates a subtask against the current states of its dependencies.
// It returns the readiness and, for Doomed, the dependency responsible.
func (g *DependencyGraph) Classify(id string, stateOf func(string) models.SubtaskState) (Readiness, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.classifyLocked(id, stateOf)
}

func (g *DependencyGraph) classifyLocked(id string, stateOf func(string) models.SubtaskState) (Readiness, string) {
	readiness := Ready
	for _, depID := range g.edges[id] {
		switch stateOf(depID) {
		case models.SubtaskSucceeded:
		case models.SubtaskFailed, models.SubtaskSkipped:
			return Doomed, depID
		default:
			readiness = Waiting
		}
	}
	return readiness, ""
}
