package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/delivery"
	"github.com/ShayCichocki/fanout/internal/gate"
	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/internal/validate"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// ErrMissionNotFound is returned for unknown or forgotten mission IDs.
var ErrMissionNotFound = errors.New("mission not found")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// Accepted is the immediate answer to a valid submission.
type Accepted struct {
	MissionID    string `json:"missionId"`
	SubtaskCount int    `json:"subtaskCount"`
	Label        string `json:"label"`
}

// missionRun tracks one mission from acceptance until it is reaped.
type missionRun struct {
	sched *Scheduler
	// done is closed after delivery and reaping.
	done   chan struct{}
	report *models.MissionReport
	final  *models.Mission
}

// Orchestrator manages multiple concurrent missions.
type Orchestrator struct {
	required  RequiredConfig
	opts      orchestratorOptions
	binder    *session.Binder
	reaper    *reaper
	observers *observers
	logger    hclog.Logger

	// active tracks running missions by ID.
	mu            sync.RWMutex
	active        map[string]*missionRun
	finished      map[string]*missionRun
	finishedOrder []string
	stopped       bool

	// ctx and cancel for orchestrator lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks running missions
	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}
	if o.gate == nil {
		o.gate = gate.New(8, nil)
	}
	if o.deliverer == nil {
		o.deliverer = delivery.NewLogDeliverer(o.logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		required: req,
		opts:     o,
		binder:   session.NewBinder(req.Store, o.logger.Named("session")),
		reaper: &reaper{
			store:       req.Store,
			concurrency: o.reapConcurrency,
			logger:      o.logger.Named("reaper"),
		},
		observers: &observers{list: o.observers, logger: o.logger.Named("observer")},
		logger:    o.logger,
		active:    make(map[string]*missionRun),
		finished:  make(map[string]*missionRun),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit validates req against the requester's allow-list and starts the
// mission. Validation failures are returned as *validate.Error and no
// mission or session is created.
func (o *Orchestrator) Submit(ctx context.Context, req validate.Request) (Accepted, error) {
	if req.Cleanup == "" {
		req.Cleanup = o.opts.defaultCleanup
	}

	allow, err := o.required.Resolver.ResolveAllowedAgents(ctx, req.Requester.Identity)
	if err != nil {
		return Accepted{}, fmt.Errorf("resolve allowed agents for %q: %w", req.Requester.Identity, err)
	}

	m, err := validate.Validate(req, allow)
	if err != nil {
		o.logger.Info("mission rejected", "label", req.Label, "requester", req.Requester.Identity, "error", err)
		return Accepted{}, err
	}
	m.ID = uuid.New().String()

	sched, err := newScheduler(m, schedulerConfig{
		gate:    o.opts.gate,
		lane:    o.opts.lane,
		binder:  o.binder,
		runtime: o.required.Runtime,
		notify:  o.notify,
		logger:  o.logger.Named("scheduler"),
	})
	if err != nil {
		return Accepted{}, err
	}
	run := &missionRun{sched: sched, done: make(chan struct{})}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return Accepted{}, ErrStopped
	}
	o.active[m.ID] = run
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("mission accepted", "mission", m.ID, "label", m.Label, "subtasks", len(m.Subtasks), "spawn_budget", m.SpawnBudget)
	sched.start()
	go o.runMission(m.ID, run)

	return Accepted{MissionID: m.ID, SubtaskCount: len(m.Subtasks), Label: m.Label}, nil
}

// SubmitSequential submits req with every subtask chained in descriptor order.
func (o *Orchestrator) SubmitSequential(ctx context.Context, req validate.Request) (Accepted, error) {
	req.Mode = validate.ModeSequential
	return o.Submit(ctx, req)
}

// SubmitParallel submits req with every subtask independent.
func (o *Orchestrator) SubmitParallel(ctx context.Context, req validate.Request) (Accepted, error) {
	req.Mode = validate.ModeParallel
	return o.Submit(ctx, req)
}

// Cancel skips every unfinished subtask of a mission with reason
// mission_cancelled and closes it. Cancelling a closing mission is a no-op.
func (o *Orchestrator) Cancel(missionID, reason string) error {
	o.mu.RLock()
	run, ok := o.active[missionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
	}
	if reason == "" {
		reason = "cancelled by requester"
	}
	if run.sched.Cancel(reason) {
		o.logger.Info("mission cancelled", "mission", missionID, "reason", reason)
	}
	return nil
}

// Wait blocks until the mission is delivered and reaped, then returns its report.
func (o *Orchestrator) Wait(ctx context.Context, missionID string) (*models.MissionReport, error) {
	run, err := o.lookup(missionID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a snapshot of an active or recently finished mission.
func (o *Orchestrator) Get(missionID string) (*models.Mission, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if run, ok := o.active[missionID]; ok {
		return run.sched.Snapshot(), nil
	}
	if run, ok := o.finished[missionID]; ok {
		return run.final.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
}

// Active returns the IDs of missions that have not finished, sorted.
func (o *Orchestrator) Active() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of active missions.
func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// Stop cancels every active mission and waits for each to deliver its
// report and reap its sessions.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) lookup(missionID string) (*missionRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if run, ok := o.active[missionID]; ok {
		return run, nil
	}
	if run, ok := o.finished[missionID]; ok {
		return run, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, missionID)
}

func (o *Orchestrator) notify(batch []models.Transition) {
	for _, t := range batch {
		o.observers.notify(t)
	}
}

// runMission waits for closure, enforcing the mission timeout, then closes
// the mission exactly once.
func (o *Orchestrator) runMission(id string, run *missionRun) {
	defer o.wg.Done()

	sched := run.sched
	if o.opts.missionTimeout > 0 {
		timer := time.NewTimer(o.opts.missionTimeout)
		defer timer.Stop()
		select {
		case <-sched.Done():
		case <-timer.C:
			o.logger.Warn("mission timed out", "mission", id, "timeout", o.opts.missionTimeout)
			sched.Cancel(fmt.Sprintf("mission timed out after %s", o.opts.missionTimeout))
		case <-o.ctx.Done():
			sched.Cancel(ErrStopped.Error())
		}
	} else {
		select {
		case <-sched.Done():
		case <-o.ctx.Done():
			sched.Cancel(ErrStopped.Error())
		}
	}
	<-sched.Done()

	o.closeMission(id, run)
}

// closeMission synthesizes and delivers the report, marks the mission
// Closed and then applies its cleanup policy.
func (o *Orchestrator) closeMission(id string, run *missionRun) {
	sched := run.sched

	report := Synthesize(sched.Snapshot(), o.opts.maxSummaryChars)
	o.deliver(sched.Snapshot(), report)
	sched.markClosed(report.Outcome)

	if !sched.waitWorkers(o.opts.drainTimeout) {
		o.logger.Warn("workers still running after drain timeout", "mission", id, "timeout", o.opts.drainTimeout)
	}

	final := sched.Snapshot()
	if err := o.reaper.reap(context.Background(), final); err != nil {
		o.logger.Error("session cleanup incomplete", "mission", id, "error", err)
	}

	o.mu.Lock()
	run.report = report
	run.final = final
	delete(o.active, id)
	o.finished[id] = run
	o.finishedOrder = append(o.finishedOrder, id)
	for len(o.finishedOrder) > o.opts.retainFinished {
		delete(o.finished, o.finishedOrder[0])
		o.finishedOrder = o.finishedOrder[1:]
	}
	o.mu.Unlock()

	o.logger.Info("mission closed", "mission", id, "outcome", report.Outcome)
	close(run.done)
}

// deliver hands the report to the deliverer once. Failures are logged only.
func (o *Orchestrator) deliver(m *models.Mission, report *models.MissionReport) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.deliveryTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("report delivery panicked", "mission", m.ID, "panic", r)
		}
	}()

	err := o.opts.deliverer.Deliver(ctx, m.Requester.Origin, m.Requester.DisplayKey, report.Text)
	if err != nil {
		o.logger.Error("report delivery failed", "mission", m.ID, "error", err)
	}
}
