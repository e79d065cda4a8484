package orchestrator

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

func testSubtask(id string, state models.SubtaskState, deps ...string) *models.Subtask {
	st := &models.Subtask{ID: id, AgentID: "x", Instruction: "do " + id, DependsOn: deps, State: state}
	switch state {
	case models.SubtaskSucceeded:
		st.Outcome = models.Success{Result: "out-" + id}
	case models.SubtaskFailed:
		st.Outcome = models.Failure{Reason: models.FailureWorker, Message: "broken"}
	case models.SubtaskSkipped:
		st.Outcome = models.Skip{Reason: models.SkipDependencyFailed}
	}
	return st
}

func newTestScheduler(t *testing.T, budget int, subtasks ...*models.Subtask) *Scheduler {
	t.Helper()
	m := &models.Mission{ID: "m1", Label: "test", SpawnBudget: budget, State: models.MissionOpen, Subtasks: subtasks}
	s, err := newScheduler(m, schedulerConfig{logger: hclog.NewNullLogger()})
	if err != nil {
		t.Fatalf("newScheduler() error: %v", err)
	}
	return s
}

func TestEvaluateSettlesTransitiveSkips(t *testing.T) {
	s := newTestScheduler(t, 5,
		testSubtask("a", models.SubtaskSucceeded),
		testSubtask("b", models.SubtaskFailed),
		testSubtask("c", models.SubtaskPending, "a"),
		testSubtask("d", models.SubtaskPending, "b"),
		testSubtask("e", models.SubtaskPending, "d"),
	)

	s.mu.Lock()
	s.evaluateLocked()
	recorded := len(s.pending)
	s.evaluateLocked()
	again := len(s.pending)
	s.mu.Unlock()

	want := map[string]models.SubtaskState{
		"c": models.SubtaskReady,
		"d": models.SubtaskSkipped,
		"e": models.SubtaskSkipped,
	}
	for id, state := range want {
		if got := s.byID[id].State; got != state {
			t.Errorf("%s = %s, want %s", id, got, state)
		}
	}
	if recorded != 3 {
		t.Errorf("first evaluation recorded %d transitions, want 3", recorded)
	}
	if again != recorded {
		t.Errorf("second evaluation changed state: %d transitions, want %d", again, recorded)
	}
	if strings.Join(s.queue, ",") != "c" {
		t.Errorf("queue = %v, want [c]", s.queue)
	}
	skip := s.byID["e"].Outcome.(models.Skip)
	if skip.Reason != models.SkipDependencyFailed || skip.Detail != "dependency d skipped" {
		t.Errorf("e outcome = %#v", skip)
	}
	if s.closing {
		t.Error("mission closing while c is still ready")
	}
}

func TestEvaluateQueuesInDescriptorOrder(t *testing.T) {
	// Queue order follows declaration, not id order.
	s := newTestScheduler(t, 5,
		testSubtask("z", models.SubtaskPending),
		testSubtask("a", models.SubtaskPending),
		testSubtask("m", models.SubtaskPending),
	)
	s.mu.Lock()
	s.evaluateLocked()
	s.mu.Unlock()

	if got := strings.Join(s.queue, ","); got != "z,a,m" {
		t.Errorf("queue = %s, want z,a,m", got)
	}
}

func TestEvaluateClosesWhenAllTerminal(t *testing.T) {
	s := newTestScheduler(t, 5,
		testSubtask("a", models.SubtaskFailed),
		testSubtask("b", models.SubtaskPending, "a"),
	)
	s.mu.Lock()
	s.evaluateLocked()
	s.mu.Unlock()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after every subtask became terminal")
	}
	if s.mission.State != models.MissionClosing {
		t.Errorf("mission state = %s, want closing", s.mission.State)
	}
}

func TestNextReadySkipsOverBudget(t *testing.T) {
	s := newTestScheduler(t, 1,
		testSubtask("a", models.SubtaskPending),
		testSubtask("b", models.SubtaskPending),
		testSubtask("c", models.SubtaskPending, "a"),
	)
	s.mu.Lock()
	s.evaluateLocked()
	s.launched = 1
	s.mu.Unlock()

	if id, ok := s.nextReady(); ok {
		t.Fatalf("nextReady() returned %s with the budget spent", id)
	}
	skip, ok := s.byID["a"].Outcome.(models.Skip)
	if !ok || skip.Reason != models.SkipSpawnBudgetExhausted {
		t.Errorf("a outcome = %#v", s.byID["a"].Outcome)
	}
	// c never became ready; behind an over-budget subtask it is over budget too.
	skip, ok = s.byID["c"].Outcome.(models.Skip)
	if !ok || skip.Reason != models.SkipSpawnBudgetExhausted {
		t.Errorf("c outcome = %#v", s.byID["c"].Outcome)
	}
}

func TestCancelOnlyOnce(t *testing.T) {
	var batches [][]models.Transition
	s := newTestScheduler(t, 2,
		testSubtask("a", models.SubtaskPending),
		testSubtask("b", models.SubtaskPending, "a"),
	)
	s.cfg.notify = func(b []models.Transition) { batches = append(batches, b) }

	if !s.Cancel("stop") {
		t.Fatal("first Cancel() = false")
	}
	if s.Cancel("again") {
		t.Error("second Cancel() = true")
	}
	if s.ctx.Err() == nil {
		t.Error("worker context not cancelled")
	}
	if len(batches) != 1 {
		t.Fatalf("notify batches = %d, want 1", len(batches))
	}
	var closing bool
	for _, tr := range batches[0] {
		if tr.IsMission() && tr.To == string(models.MissionClosing) {
			closing = true
		}
	}
	if !closing {
		t.Error("cancel batch missing closing transition")
	}

	s.markClosed(models.OutcomeAllFailed)
	if s.Snapshot().State != models.MissionClosed {
		t.Errorf("state = %s, want closed", s.Snapshot().State)
	}
}

func TestCompleteIgnoresLateResults(t *testing.T) {
	s := newTestScheduler(t, 1, testSubtask("a", models.SubtaskPending))
	s.Cancel("gone")

	s.complete("a", "too late", nil)
	if _, ok := s.byID["a"].Outcome.(models.Skip); !ok {
		t.Errorf("late completion overwrote outcome: %#v", s.byID["a"].Outcome)
	}
}

func TestWithUpstreamResults(t *testing.T) {
	s := newTestScheduler(t, 3,
		testSubtask("a", models.SubtaskSucceeded),
		testSubtask("b", models.SubtaskSucceeded),
		testSubtask("c", models.SubtaskReady, "a", "b"),
		testSubtask("d", models.SubtaskReady),
	)

	s.mu.Lock()
	got := s.withUpstreamLocked(s.byID["c"])
	plain := s.withUpstreamLocked(s.byID["d"])
	s.mu.Unlock()

	want := "do c\n\n---\nResults from upstream subtasks:\n\n[a] (x):\nout-a\n\n[b] (x):\nout-b"
	if got != want {
		t.Errorf("instruction =\n%q\nwant\n%q", got, want)
	}
	if plain != "do d" {
		t.Errorf("instruction without deps = %q", plain)
	}
}

func TestDoomReasonFollowsCulprit(t *testing.T) {
	s := newTestScheduler(t, 5,
		testSubtask("a", models.SubtaskFailed),
		testSubtask("b", models.SubtaskPending),
		testSubtask("c", models.SubtaskPending, "a"),
		testSubtask("d", models.SubtaskPending, "b"),
	)
	s.byID["b"].State = models.SubtaskSkipped
	s.byID["b"].Outcome = models.Skip{Reason: models.SkipSpawnBudgetExhausted}

	s.mu.Lock()
	s.evaluateLocked()
	s.mu.Unlock()

	if got := s.byID["c"].Outcome.(models.Skip).Reason; got != models.SkipDependencyFailed {
		t.Errorf("c reason = %s, want dependency_failed", got)
	}
	if got := s.byID["d"].Outcome.(models.Skip).Reason; got != models.SkipSpawnBudgetExhausted {
		t.Errorf("d reason = %s, want spawn_budget_exhausted", got)
	}
}

func TestCompletionOrderDoesNotChangeOutcome(t *testing.T) {
	type completion struct {
		id  string
		err error
	}
	broken := errors.New("broken")

	tests := []struct {
		name  string
		first []completion
	}{
		{"both succeed", []completion{{"a", nil}, {"b", nil}}},
		{"one fails", []completion{{"a", nil}, {"b", broken}}},
		{"both fail", []completion{{"a", broken}, {"b", broken}}},
	}

	run := func(t *testing.T, order []completion) *Scheduler {
		s := newTestScheduler(t, 5,
			testSubtask("a", models.SubtaskRunning),
			testSubtask("b", models.SubtaskRunning),
			testSubtask("c", models.SubtaskPending, "a"),
			testSubtask("d", models.SubtaskPending, "b"),
			testSubtask("e", models.SubtaskPending, "a", "b"),
		)
		s.mu.Lock()
		s.evaluateLocked()
		s.mu.Unlock()
		for _, c := range order {
			s.complete(c.id, "out-"+c.id, c.err)
		}
		return s
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reversed := []completion{tt.first[1], tt.first[0]}
			s1 := run(t, tt.first)
			s2 := run(t, reversed)

			for _, id := range []string{"a", "b", "c", "d", "e"} {
				st1, st2 := s1.byID[id], s2.byID[id]
				if st1.State != st2.State {
					t.Errorf("%s state = %s vs %s", id, st1.State, st2.State)
				}
				// Which failed dependency gets named may differ; the kind may not.
				if outcomeKind(st1.Outcome) != outcomeKind(st2.Outcome) {
					t.Errorf("%s outcome = %#v vs %#v", id, st1.Outcome, st2.Outcome)
				}
			}

			// Subtasks readied by different completions may queue in either
			// order; the set is what must match.
			q1 := append([]string(nil), s1.queue...)
			q2 := append([]string(nil), s2.queue...)
			sort.Strings(q1)
			sort.Strings(q2)
			if !reflect.DeepEqual(q1, q2) {
				t.Errorf("ready queue = %v vs %v", s1.queue, s2.queue)
			}
		})
	}
}

func outcomeKind(o models.Outcome) string {
	switch v := o.(type) {
	case models.Success:
		return "success"
	case models.Failure:
		return "failure:" + string(v.Reason)
	case models.Skip:
		return "skip:" + string(v.Reason)
	}
	return ""
}
