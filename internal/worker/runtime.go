// Package worker runs one subtask instruction inside its bound session.
package worker

import (
	"context"
	"errors"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// ErrTimeout is returned when a worker exceeds its per-subtask time limit.
var ErrTimeout = errors.New("worker timed out")

// Request is the payload handed to a worker.
type Request struct {
	SessionKey  string
	AgentID     string
	Instruction string
	Label       string
	Origin      models.Origin
}

// Runtime executes workers. Dispatch blocks until the worker produces a
// result or fails; implementations must honour ctx cancellation.
type Runtime interface {
	Dispatch(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Runtime.
type Func func(ctx context.Context, req Request) (string, error)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
