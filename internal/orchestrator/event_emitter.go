package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// EventEmitter is an Observer that publishes transitions on a channel.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan OrchestratorEvent
	droppedCount atomic.Uint64
	logger       hclog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger hclog.Logger) *EventEmitter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EventEmitter{
		events: make(chan OrchestratorEvent, bufferSize),
		logger: logger,
	}
}

// OnTransition converts the transition to an event and emits it without
// waiting. Observers run on the scheduler's notification path, so a slow
// reader loses events instead of stalling missions.
func (e *EventEmitter) OnTransition(t models.Transition) {
	e.send(eventFromTransition(t), 0)
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event OrchestratorEvent) {
	e.send(event, 100*time.Millisecond)
}

func (e *EventEmitter) send(event OrchestratorEvent, wait time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	if wait > 0 {
		// Give the receiver a chance to drain.
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case e.events <- event:
			return
		case <-timer.C:
		}
	}

	count := e.droppedCount.Add(1)
	if count%10 == 1 {
		e.logger.Warn("event channel full, dropped event", "total_dropped", count, "type", event.Type)
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	return e.events
}

// Close closes the events channel. Later emits are discarded.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

var _ Observer = (*EventEmitter)(nil)
