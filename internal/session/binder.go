// Package session binds each subtask to an isolated worker session.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// ErrAllocationFailed wraps every error returned by Bind. The caller fails
// only the affected subtask.
var ErrAllocationFailed = errors.New("session allocation failed")

// ErrRequesterKey is returned when a derived key would collide with the
// requester's own session.
var ErrRequesterKey = errors.New("worker session key equals requester session key")

// Binding is the result of a successful Bind.
type Binding struct {
	SessionKey string
	// Origin is inherited from the requester so the worker can thread replies.
	Origin models.Origin
	// Label is "<mission label> / <subtask id>".
	Label string
	// DelegatedBy is the requester's session key.
	DelegatedBy string
}

// Key returns the worker session key for a subtask.
func Key(agentID, missionID, subtaskID string) string {
	return fmt.Sprintf("agent:%s:mission:%s:%s", agentID, missionID, subtaskID)
}

// Label returns the display label of a subtask's worker session.
func Label(missionLabel, subtaskID string) string {
	if missionLabel == "" {
		return subtaskID
	}
	return missionLabel + " / " + subtaskID
}

// Binder allocates worker sessions through a Store.
type Binder struct {
	store  Store
	logger hclog.Logger
}

// NewBinder creates a Binder backed by store. A nil logger discards output.
func NewBinder(store Store, logger hclog.Logger) *Binder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Binder{store: store, logger: logger}
}

// Store returns the backing store.
func (b *Binder) Store() Store {
	return b.store
}

// Bind allocates a fresh session for subtask st of mission m. Keys are
// unique per (mission, subtask) and never equal the requester's key.
func (b *Binder) Bind(ctx context.Context, m *models.Mission, st *models.Subtask) (Binding, error) {
	key := Key(st.AgentID, m.ID, st.ID)
	if key == m.Requester.SessionKey {
		return Binding{}, fmt.Errorf("%w: %w", ErrAllocationFailed, ErrRequesterKey)
	}

	binding := Binding{
		SessionKey:  key,
		Origin:      m.Requester.Origin,
		Label:       Label(m.Label, st.ID),
		DelegatedBy: m.Requester.SessionKey,
	}

	err := b.store.Allocate(ctx, Allocation{
		SessionKey:  key,
		MissionID:   m.ID,
		SubtaskID:   st.ID,
		AgentID:     st.AgentID,
		Label:       binding.Label,
		DelegatedBy: binding.DelegatedBy,
		Origin:      binding.Origin,
	})
	if err != nil {
		b.logger.Warn("session allocation failed", "mission", m.ID, "subtask", st.ID, "agent", st.AgentID, "error", err)
		return Binding{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	b.logger.Debug("session bound", "mission", m.ID, "subtask", st.ID, "session", key)
	return binding, nil
}
