package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/gate"
	"github.com/ShayCichocki/fanout/internal/graph"
	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/internal/worker"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// schedulerConfig carries the collaborators a Scheduler needs.
type schedulerConfig struct {
	gate    gate.Admitter
	lane    string
	binder  *session.Binder
	runtime worker.Runtime
	// notify receives transitions in the order they happened.
	notify func([]models.Transition)
	logger hclog.Logger
}

// Scheduler drives the subtasks of one mission to terminal states.
//
// All mutation of mission state happens under mu. A single dispatcher
// goroutine drains the ready queue; it is the only goroutine that blocks on
// the admission gate. Worker completions re-enter through complete.
type Scheduler struct {
	cfg     schedulerConfig
	mission *models.Mission
	byID    map[string]*models.Subtask
	index   map[string]int
	graph   *graph.DependencyGraph
	// topo is a topological order; evaluating in it makes one pass a fixpoint.
	topo []string

	// mu protects mission, queue, launched, pending and closing.
	mu       sync.Mutex
	queue    []string
	launched int
	pending  []models.Transition
	closing  bool

	// notifyMu hands transition batches to observers in order.
	notifyMu sync.Mutex

	// trigger is a channel to signal the dispatcher to check for work.
	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	workers sync.WaitGroup
}

// newScheduler builds the graph for a validated mission. The mission is
// owned by the scheduler from here on.
func newScheduler(m *models.Mission, cfg schedulerConfig) (*Scheduler, error) {
	g := graph.New()
	g.SetDebugLog(func(format string, args ...interface{}) {
		cfg.logger.Trace(fmt.Sprintf(format, args...))
	})
	if err := g.Build(m.Subtasks); err != nil {
		return nil, fmt.Errorf("build graph for mission %s: %w", m.ID, err)
	}
	topo, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("order graph for mission %s: %w", m.ID, err)
	}

	byID := make(map[string]*models.Subtask, len(m.Subtasks))
	index := make(map[string]int, len(m.Subtasks))
	for i, st := range m.Subtasks {
		byID[st.ID] = st
		index[st.ID] = i
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		mission: m,
		byID:    byID,
		index:   index,
		graph:   g,
		topo:    topo,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// start computes the initial ready set and launches the dispatcher.
func (s *Scheduler) start() {
	s.mu.Lock()
	s.recordLocked(models.Transition{
		MissionID: s.mission.ID,
		To:        string(models.MissionOpen),
		Reason:    fmt.Sprintf("%d subtasks", len(s.mission.Subtasks)),
	})
	s.evaluateLocked()
	s.unlockAndNotify()

	go s.dispatchLoop()
}

// Done is closed once every subtask is terminal and the mission is Closing.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a deep copy of the mission.
func (s *Scheduler) Snapshot() *models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mission.Clone()
}

// Launched returns how many subtasks have been dispatched.
func (s *Scheduler) Launched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launched
}

// Cancel skips every non-terminal subtask with reason and forces closure.
// Returns false if the mission was already closing.
func (s *Scheduler) Cancel(reason string) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	for _, st := range s.mission.Subtasks {
		if !st.State.IsTerminal() {
			s.transitionLocked(st, models.Skip{Reason: models.SkipMissionCancelled, Detail: reason})
		}
	}
	s.queue = nil
	s.checkClosureLocked()
	s.unlockAndNotify()
	return true
}

// markClosed records the Closing → Closed transition after delivery.
func (s *Scheduler) markClosed(outcome models.MissionOutcome) {
	s.mu.Lock()
	s.mission.State = models.MissionClosed
	s.recordLocked(models.Transition{
		MissionID: s.mission.ID,
		From:      string(models.MissionClosing),
		To:        string(models.MissionClosed),
		Reason:    string(outcome),
	})
	s.unlockAndNotify()
}

// waitWorkers waits for in-flight worker goroutines, up to timeout.
// Returns false if some are still running.
func (s *Scheduler) waitWorkers(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Scheduler) dispatchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.trigger:
		}

		for {
			id, ok := s.nextReady()
			if !ok {
				break
			}
			s.launch(id)
		}
	}
}

// nextReady pops the next Ready subtask, skipping any whose turn arrives
// after the spawn budget is spent.
func (s *Scheduler) nextReady() (string, bool) {
	s.mu.Lock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]

		st := s.byID[id]
		if st.State != models.SubtaskReady {
			continue
		}
		if s.launched >= s.mission.SpawnBudget {
			s.transitionLocked(st, models.Skip{
				Reason: models.SkipSpawnBudgetExhausted,
				Detail: fmt.Sprintf("%d of %d spawns used", s.launched, s.mission.SpawnBudget),
			})
			s.evaluateLocked()
			continue
		}
		s.unlockAndNotify()
		return id, true
	}
	s.unlockAndNotify()
	return "", false
}

// launch admits, binds and dispatches one subtask.
func (s *Scheduler) launch(id string) {
	permit, err := s.cfg.gate.Acquire(s.ctx, s.cfg.lane)
	if err != nil {
		// The mission context only ends on cancel or closure, both of
		// which already settled this subtask.
		s.cfg.logger.Debug("admission aborted", "mission", s.mission.ID, "subtask", id, "error", err)
		return
	}

	s.mu.Lock()
	st := s.byID[id]
	if st.State != models.SubtaskReady {
		s.mu.Unlock()
		s.cfg.gate.Release(permit)
		return
	}
	// Bind works on a copy so a slow store never holds up completions or Cancel.
	target := *st
	target.DependsOn = append([]string(nil), st.DependsOn...)
	mission := &models.Mission{
		ID:            s.mission.ID,
		Label:         s.mission.Label,
		Requester:     s.mission.Requester,
		CleanupPolicy: s.mission.CleanupPolicy,
	}
	s.mu.Unlock()

	binding, err := s.cfg.binder.Bind(s.ctx, mission, &target)

	s.mu.Lock()
	if err != nil {
		s.cfg.gate.Release(permit)
		if st.State == models.SubtaskReady {
			s.transitionLocked(st, models.Failure{Reason: models.FailureSessionAllocation, Message: err.Error()})
			s.evaluateLocked()
		}
		s.unlockAndNotify()
		return
	}
	if st.State != models.SubtaskReady {
		// Cancelled while binding; the session was never used.
		s.mu.Unlock()
		s.cfg.gate.Release(permit)
		s.discardUnused(binding.SessionKey)
		return
	}

	s.launched++
	st.SessionKey = binding.SessionKey
	st.Instruction = s.withUpstreamLocked(st)
	s.setRunningLocked(st)

	req := worker.Request{
		SessionKey:  binding.SessionKey,
		AgentID:     st.AgentID,
		Instruction: st.Instruction,
		Label:       binding.Label,
		Origin:      binding.Origin,
	}
	s.workers.Add(1)
	s.unlockAndNotify()

	go s.run(id, req, permit)
}

// discardUnused releases a session bound for a subtask that was settled
// before it could run.
func (s *Scheduler) discardUnused(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cfg.binder.Store().Discard(ctx, key); err != nil {
		s.cfg.logger.Warn("cannot discard unused session", "mission", s.mission.ID, "session", key, "error", err)
	}
}

func (s *Scheduler) run(id string, req worker.Request, permit *gate.Permit) {
	defer s.workers.Done()
	result, err := s.invoke(req)
	s.cfg.gate.Release(permit)
	s.complete(id, result, err)
}

// invoke calls the runtime, turning a panic into an error.
func (s *Scheduler) invoke(req worker.Request) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return s.cfg.runtime.Dispatch(s.ctx, req)
}

// complete records a worker's outcome. Results for subtasks that are no
// longer running (cancelled meanwhile) are dropped.
func (s *Scheduler) complete(id, result string, err error) {
	s.mu.Lock()
	st := s.byID[id]
	if st.State != models.SubtaskRunning {
		s.cfg.logger.Debug("ignoring late completion", "mission", s.mission.ID, "subtask", id, "state", st.State)
		s.unlockAndNotify()
		return
	}

	var outcome models.Outcome
	switch {
	case err == nil:
		outcome = models.Success{Result: result}
	case errors.Is(err, worker.ErrTimeout):
		outcome = models.Failure{Reason: models.FailureTimeout, Message: err.Error()}
	default:
		outcome = models.Failure{Reason: models.FailureWorker, Message: err.Error()}
	}
	s.transitionLocked(st, outcome)
	s.evaluateLocked()
	s.unlockAndNotify()
}

// evaluateLocked recomputes readiness from the current terminal-state set.
// Walking in topological order settles transitive skips in one pass, so the
// result depends only on the states, not on completion order.
func (s *Scheduler) evaluateLocked() {
	stateOf := func(id string) models.SubtaskState { return s.byID[id].State }

	var ready []string
	for _, id := range s.topo {
		st := s.byID[id]
		if st.State != models.SubtaskPending && st.State != models.SubtaskBlocked {
			continue
		}
		readiness, culprit := s.graph.Classify(id, stateOf)
		switch readiness {
		case graph.Ready:
			s.setStateLocked(st, models.SubtaskReady, "")
			ready = append(ready, id)
		case graph.Doomed:
			s.transitionLocked(st, s.doomedBy(s.byID[culprit]))
		case graph.Waiting:
			if st.State == models.SubtaskPending {
				s.setStateLocked(st, models.SubtaskBlocked, "")
			}
		}
	}

	if len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return s.index[ready[i]] < s.index[ready[j]] })
		s.queue = append(s.queue, ready...)
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}

	s.checkClosureLocked()
}

// doomedBy returns the skip for a subtask whose dependency dep can no longer
// succeed. Budget exhaustion passes down unchanged: a subtask behind one that
// had no spawn left is itself over budget.
func (s *Scheduler) doomedBy(dep *models.Subtask) models.Skip {
	if skip, ok := dep.Outcome.(models.Skip); ok && skip.Reason == models.SkipSpawnBudgetExhausted {
		return models.Skip{
			Reason: models.SkipSpawnBudgetExhausted,
			Detail: fmt.Sprintf("dependency %s over spawn budget (%d)", dep.ID, s.mission.SpawnBudget),
		}
	}
	return models.Skip{
		Reason: models.SkipDependencyFailed,
		Detail: fmt.Sprintf("dependency %s %s", dep.ID, dep.State),
	}
}

// checkClosureLocked moves the mission to Closing once, when every subtask is terminal.
func (s *Scheduler) checkClosureLocked() {
	if s.closing {
		return
	}
	for _, st := range s.mission.Subtasks {
		if !st.State.IsTerminal() {
			return
		}
	}
	s.closing = true
	s.mission.State = models.MissionClosing
	s.recordLocked(models.Transition{
		MissionID: s.mission.ID,
		From:      string(models.MissionOpen),
		To:        string(models.MissionClosing),
	})
	close(s.done)
	s.cancel()
}

// transitionLocked moves st to the terminal state of outcome.
func (s *Scheduler) transitionLocked(st *models.Subtask, outcome models.Outcome) {
	if s.setStateLocked(st, outcome.State(), reasonOf(outcome)) {
		st.Outcome = outcome
	}
}

func (s *Scheduler) setRunningLocked(st *models.Subtask) {
	s.setStateLocked(st, models.SubtaskRunning, "")
}

func (s *Scheduler) setStateLocked(st *models.Subtask, next models.SubtaskState, reason string) bool {
	from := st.State
	if !from.CanTransition(next) {
		s.cfg.logger.Error("illegal subtask transition", "mission", s.mission.ID, "subtask", st.ID, "from", from, "to", next)
		return false
	}
	st.State = next
	s.recordLocked(models.Transition{
		MissionID:  s.mission.ID,
		SubtaskID:  st.ID,
		AgentID:    st.AgentID,
		SessionKey: st.SessionKey,
		From:       string(from),
		To:         string(next),
		Reason:     reason,
	})
	s.cfg.logger.Debug("subtask transition", "mission", s.mission.ID, "subtask", st.ID, "from", from, "to", next, "reason", reason)
	return true
}

func (s *Scheduler) recordLocked(t models.Transition) {
	t.At = time.Now()
	s.pending = append(s.pending, t)
}

// unlockAndNotify releases mu and hands the pending transitions to the
// observers. notifyMu is taken before mu is released so batches from
// different goroutines reach observers in the order they were recorded.
func (s *Scheduler) unlockAndNotify() {
	batch := s.pending
	s.pending = nil
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if len(batch) > 0 && s.cfg.notify != nil {
		s.cfg.notify(batch)
	}
}

// withUpstreamLocked appends the results of succeeded dependencies to the
// instruction so the worker sees upstream output, not just ids.
func (s *Scheduler) withUpstreamLocked(st *models.Subtask) string {
	var b strings.Builder
	for _, depID := range st.DependsOn {
		dep := s.byID[depID]
		result, ok := dep.Result()
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n\n[%s] (%s):\n%s", dep.ID, dep.AgentID, strings.TrimSpace(result))
	}
	if b.Len() == 0 {
		return st.Instruction
	}
	return st.Instruction + "\n\n---\nResults from upstream subtasks:" + b.String()
}

func reasonOf(o models.Outcome) string {
	if _, ok := o.(models.Success); ok {
		return ""
	}
	return o.Summary()
}
