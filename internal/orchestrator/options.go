package orchestrator

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/delegation"
	"github.com/ShayCichocki/fanout/internal/delivery"
	"github.com/ShayCichocki/fanout/internal/gate"
	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/internal/worker"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Resolver looks up which agents a requester may delegate to.
	Resolver delegation.Resolver
	// Runtime executes workers.
	Runtime worker.Runtime
	// Store allocates and tears down worker sessions.
	Store session.Store
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	gate            gate.Admitter
	lane            string
	deliverer       delivery.Deliverer
	logger          hclog.Logger
	observers       []Observer
	missionTimeout  time.Duration
	deliveryTimeout time.Duration
	drainTimeout    time.Duration
	defaultCleanup  models.CleanupPolicy
	maxSummaryChars int
	reapConcurrency int
	retainFinished  int
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		lane:            gate.DefaultLane,
		deliveryTimeout: 30 * time.Second,
		drainTimeout:    10 * time.Second,
		defaultCleanup:  models.CleanupKeep,
		maxSummaryChars: DefaultMaxSummaryChars,
		reapConcurrency: defaultReapConcurrency,
		retainFinished:  256,
	}
}

// WithGate sets the admission gate shared with other orchestrators.
func WithGate(g gate.Admitter) Option {
	return func(o *orchestratorOptions) { o.gate = g }
}

// WithLane sets the admission lane used for worker launches.
func WithLane(lane string) Option {
	return func(o *orchestratorOptions) { o.lane = lane }
}

// WithDeliverer sets where mission reports are sent.
func WithDeliverer(d delivery.Deliverer) Option {
	return func(o *orchestratorOptions) { o.deliverer = d }
}

// WithLogger sets the structured logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithObserver registers an observer of every transition.
func WithObserver(obs Observer) Option {
	return func(o *orchestratorOptions) { o.observers = append(o.observers, obs) }
}

// WithMissionTimeout sets a wall-clock ceiling after which a mission is cancelled.
func WithMissionTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.missionTimeout = d }
}

// WithDeliveryTimeout bounds a single report delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.deliveryTimeout = d }
}

// WithDrainTimeout bounds how long closure waits for cancelled workers to return.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.drainTimeout = d }
}

// WithDefaultCleanup sets the cleanup policy for requests that omit one.
func WithDefaultCleanup(p models.CleanupPolicy) Option {
	return func(o *orchestratorOptions) { o.defaultCleanup = p }
}

// WithMaxSummaryChars bounds each subtask excerpt in the report.
func WithMaxSummaryChars(n int) Option {
	return func(o *orchestratorOptions) { o.maxSummaryChars = n }
}

// WithReapConcurrency bounds parallel session teardown.
func WithReapConcurrency(n int) Option {
	return func(o *orchestratorOptions) { o.reapConcurrency = n }
}

// WithRetainFinished sets how many finished missions stay queryable.
func WithRetainFinished(n int) Option {
	return func(o *orchestratorOptions) { o.retainFinished = n }
}
