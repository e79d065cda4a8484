package orchestrator

import (
	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// Observer is notified of every subtask and mission transition. Observers
// run on the scheduler's notification path and should return quickly.
// A panicking observer is logged and otherwise ignored. Observers must not
// call back into the Orchestrator (Cancel, Get) synchronously from
// OnTransition; hand off to another goroutine instead.
type Observer interface {
	OnTransition(t models.Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t models.Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(t models.Transition) { f(t) }

// observers fans a transition out to every registered observer.
type observers struct {
	list   []Observer
	logger hclog.Logger
}

func (o *observers) notify(t models.Transition) {
	for _, obs := range o.list {
		o.safeCall(obs, t)
	}
}

func (o *observers) safeCall(obs Observer, t models.Transition) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("observer panicked", "mission", t.MissionID, "subtask", t.SubtaskID, "panic", r)
		}
	}()
	obs.OnTransition(t)
}
