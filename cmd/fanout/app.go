package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/config"
	"github.com/ShayCichocki/fanout/internal/delegation"
	"github.com/ShayCichocki/fanout/internal/delivery"
	"github.com/ShayCichocki/fanout/internal/gate"
	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/internal/state"
	"github.com/ShayCichocki/fanout/internal/worker"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// app bundles everything a running mission needs. Close releases it in
// reverse order of construction.
type app struct {
	logger  hclog.Logger
	orch    *orchestrator.Orchestrator
	db      *state.DB
	emitter *orchestrator.EventEmitter
	signals *orchestrator.SignalWatcher
	runtime *worker.AnthropicRuntime

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// appOptions selects optional pieces of the app.
type appOptions struct {
	// events enables the EventEmitter used by the TUI.
	events bool
	// quietLogs sends logs to the log file only, or discards them.
	quietLogs bool
}

// newLogger builds the process logger from config.
func newLogger(c *config.Config, quiet bool) (hclog.Logger, io.Closer, error) {
	opts := orchestrator.LoggerOptions{
		Name:  "fanout",
		Level: c.Log.Level,
		File:  c.Log.File,
		JSON:  c.Log.JSON,
	}
	if quiet && opts.File == "" {
		opts.Output = io.Discard
	}
	return orchestrator.NewLogger(opts)
}

// newResolver builds the delegation allow-list resolver.
func newResolver(c *config.Config) (delegation.Resolver, error) {
	if c.Delegation.PolicyFile != "" {
		return delegation.LoadPolicyFile(c.Delegation.PolicyFile)
	}
	return delegation.NewStaticResolver(c.Delegation.AllowAgents...), nil
}

// openState opens and migrates the bookkeeping database.
func openState(c *config.Config) (*state.DB, error) {
	path := c.State.Path
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.OpenWithDriver(path, c.State.Driver)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// newApp wires config into a started orchestrator.
func newApp(c *config.Config, opts appOptions) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.CheckCredentials(c); err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	logger, logCloser, err := newLogger(c, opts.quietLogs)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser)

	resolver, err := newResolver(c)
	if err != nil {
		return nil, err
	}

	apiKey, _ := config.GetAPIKey(c)
	runtime, err := worker.NewAnthropicRuntime(worker.AnthropicConfig{
		Model:         c.Worker.Model,
		AgentModels:   c.Worker.AgentModels,
		SystemPrompt:  c.Worker.SystemPrompt,
		MaxTokens:     int64(c.Worker.MaxTokens),
		Timeout:       c.Worker.Timeout,
		APIKey:        apiKey,
		BaseURL:       c.Anthropic.BaseURL,
		UseAWSBedrock: c.Anthropic.UseBedrock,
		AWSRegion:     c.Anthropic.AWSRegion,
		AWSProfile:    c.Anthropic.AWSProfile,
		MaxRetries:    c.Worker.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker runtime: %w", err)
	}
	a.runtime = runtime

	var store session.Store = session.NewMemoryStore()
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithGate(gate.New(c.Gate.MaxConcurrent, c.Gate.Lanes)),
		orchestrator.WithMissionTimeout(c.Mission.Timeout),
		orchestrator.WithDeliveryTimeout(c.Delivery.Timeout),
		orchestrator.WithDrainTimeout(c.Mission.DrainTimeout),
		orchestrator.WithDefaultCleanup(models.CleanupPolicy(c.Mission.DefaultCleanup)),
		orchestrator.WithMaxSummaryChars(c.Report.MaxSummaryChars),
		orchestrator.WithReapConcurrency(c.Mission.ReapConcurrency),
		orchestrator.WithRetainFinished(c.Mission.RetainFinished),
	}
	if c.Gate.Lane != "" {
		orchOpts = append(orchOpts, orchestrator.WithLane(c.Gate.Lane))
	}

	if c.State.Enabled {
		db, err := openState(c)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db)
		store = db
		orchOpts = append(orchOpts, orchestrator.WithObserver(state.NewRecorder(db, logger)))
		recoverInterrupted(db, logger)
	}

	deliverers := delivery.Multi{delivery.NewLogDeliverer(logger)}
	if c.Delivery.WebSocketURL != "" {
		ws := delivery.NewWebSocketDeliverer(c.Delivery.WebSocketURL, nil, logger)
		deliverers = append(deliverers, ws)
		a.closers = append(a.closers, ws)
	}
	orchOpts = append(orchOpts, orchestrator.WithDeliverer(deliverers))

	if opts.events {
		a.emitter = orchestrator.NewEventEmitter(256, logger)
		orchOpts = append(orchOpts, orchestrator.WithObserver(a.emitter))
	}

	if a.emitter != nil {
		// Closers run newest first, so the channel closes after Stop.
		a.closers = append(a.closers, closerFunc(func() error { a.emitter.Close(); return nil }))
	}
	a.orch = orchestrator.New(orchestrator.RequiredConfig{
		Resolver: resolver,
		Runtime:  runtime,
		Store:    store,
	}, orchOpts...)
	a.closers = append(a.closers, closerFunc(a.orch.Stop))

	if c.Signals.Enabled {
		sw, err := orchestrator.NewSignalWatcher(c.Signals.Dir, a.orch, logger, c.Signals.PollInterval)
		if err != nil {
			return nil, err
		}
		sw.Start()
		a.signals = sw
		a.closers = append(a.closers, closerFunc(func() error { sw.Stop(); return nil }))
	}

	ok = true
	return a, nil
}

// recoverInterrupted closes missions whose process died before they closed.
func recoverInterrupted(db *state.DB, logger hclog.Logger) {
	interrupted, err := db.FindInterrupted()
	if err != nil {
		logger.Warn("cannot check for interrupted missions", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, m := range interrupted {
		if err := db.CloseInterrupted(ctx, m.MissionID); err != nil {
			logger.Warn("cannot close interrupted mission", "mission", m.MissionID, "error", err)
			continue
		}
		logger.Info("closed interrupted mission", "mission", m.MissionID, "pid", m.PID, "unfinished", m.Unfinished)
	}
}

// Close stops the orchestrator and releases resources, newest first.
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// stderrIsTerminal reports whether stderr looks interactive.
func stderrIsTerminal() bool {
	fi, err := os.Stderr.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
