package state

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/pkg/models"
)

const recordTimeout = 5 * time.Second

// Recorder persists every transition it observes. Write errors are
// logged and never reach the scheduler.
type Recorder struct {
	db     *DB
	logger hclog.Logger
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(db *DB, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{db: db, logger: logger.Named("recorder")}
}

// OnTransition implements orchestrator.Observer.
func (r *Recorder) OnTransition(t models.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.db.RecordTransition(ctx, t); err != nil {
		r.logger.Warn("failed to record transition", "mission", t.MissionID, "subtask", t.SubtaskID, "to", t.To, "error", err)
	}
}

var _ orchestrator.Observer = (*Recorder)(nil)
