package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/fanout/pkg/models"
)

func subtasks(specs ...[]string) []*models.Subtask {
	// Each spec is {id, deps...}.
	out := make([]*models.Subtask, 0, len(specs))
	for _, s := range specs {
		out = append(out, &models.Subtask{ID: s[0], AgentID: "x", Instruction: "do " + s[0], DependsOn: s[1:]})
	}
	return out
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	order, err := g.TopologicalSort()
	if err != nil || len(order) != 0 {
		t.Errorf("empty graph sort = %v, %v", order, err)
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	err := g.Build(subtasks(
		[]string{"a"},
		[]string{"b", "a"},
		[]string{"c", "a", "b"},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want [a b c]", order)
	}

	// c waits on both edges.
	states := map[string]models.SubtaskState{"a": models.SubtaskSucceeded, "b": models.SubtaskRunning}
	if got, _ := g.Classify("c", func(id string) models.SubtaskState { return states[id] }); got != Waiting {
		t.Errorf("Classify(c) = %v, want Waiting", got)
	}
}

func TestBuildUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build(subtasks([]string{"a", "ghost"}))
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}

	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected *DependencyError, got %T", err)
	}
	if depErr.SubtaskID != "a" || depErr.DependsOn != "ghost" {
		t.Errorf("unexpected dependency error: %+v", depErr)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	tests := []struct {
		name  string
		specs [][]string
	}{
		{"self loop", [][]string{{"a", "a"}}},
		{"two node", [][]string{{"a", "b"}, {"b", "a"}}},
		{"three node", [][]string{{"a", "c"}, {"b", "a"}, {"c", "b"}}},
		{"cycle behind a root", [][]string{{"root"}, {"a", "root", "c"}, {"b", "a"}, {"c", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			err := g.Build(subtasks(tt.specs...))
			if !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("expected ErrCycleDetected, got %v", err)
			}
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected *CycleError, got %T", err)
			}
			if n := len(cycleErr.Path); n < 2 || cycleErr.Path[0] != cycleErr.Path[n-1] {
				t.Errorf("cycle path should start and end on the same node: %v", cycleErr.Path)
			}
		})
	}
}

func TestTopologicalSortStable(t *testing.T) {
	g := New()
	err := g.Build(subtasks(
		[]string{"d", "b"},
		[]string{"a"},
		[]string{"b"},
		[]string{"c", "a"},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	want := []string{"a", "b", "d", "c"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("TopologicalSort() = %v, want %v", order, want)
	}
}

func TestClassify(t *testing.T) {
	g := New()
	if err := g.Build(subtasks([]string{"a"}, []string{"b"}, []string{"c", "a", "b"})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		states  map[string]models.SubtaskState
		want    Readiness
		culprit string
	}{
		{"all pending", map[string]models.SubtaskState{"a": models.SubtaskReady, "b": models.SubtaskReady}, Waiting, ""},
		{"one succeeded", map[string]models.SubtaskState{"a": models.SubtaskSucceeded, "b": models.SubtaskRunning}, Waiting, ""},
		{"both succeeded", map[string]models.SubtaskState{"a": models.SubtaskSucceeded, "b": models.SubtaskSucceeded}, Ready, ""},
		{"one failed", map[string]models.SubtaskState{"a": models.SubtaskSucceeded, "b": models.SubtaskFailed}, Doomed, "b"},
		{"one skipped while other runs", map[string]models.SubtaskState{"a": models.SubtaskSkipped, "b": models.SubtaskRunning}, Doomed, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, culprit := g.Classify("c", func(id string) models.SubtaskState { return tt.states[id] })
			if got != tt.want || culprit != tt.culprit {
				t.Errorf("Classify(c) = %v, %q; want %v, %q", got, culprit, tt.want, tt.culprit)
			}
		})
	}
}
