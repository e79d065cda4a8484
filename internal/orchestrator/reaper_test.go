package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/pkg/models"
)

func boundMission(t *testing.T, store *session.MemoryStore, policy models.CleanupPolicy, keys ...string) *models.Mission {
	t.Helper()
	m := &models.Mission{ID: "m1", CleanupPolicy: policy}
	for i, key := range keys {
		st := &models.Subtask{ID: string(rune('a' + i)), AgentID: "x", State: models.SubtaskSucceeded}
		if key != "" {
			if err := store.Allocate(context.Background(), session.Allocation{SessionKey: key, MissionID: m.ID, SubtaskID: st.ID}); err != nil {
				t.Fatalf("Allocate(%s) error: %v", key, err)
			}
			st.SessionKey = key
		}
		m.Subtasks = append(m.Subtasks, st)
	}
	return m
}

func TestReapDelete(t *testing.T) {
	store := session.NewMemoryStore()
	m := boundMission(t, store, models.CleanupDelete, "k1", "", "k2", "k3")
	r := &reaper{store: store, concurrency: 2, logger: hclog.NewNullLogger()}

	if err := r.reap(context.Background(), m); err != nil {
		t.Fatalf("reap() error: %v", err)
	}
	if got := store.Count(session.StatusDiscarded); got != 3 {
		t.Errorf("discarded = %d, want 3", got)
	}
}

func TestReapKeep(t *testing.T) {
	store := session.NewMemoryStore()
	m := boundMission(t, store, models.CleanupKeep, "k1", "k2")
	r := &reaper{store: store, logger: hclog.NewNullLogger()}

	if err := r.reap(context.Background(), m); err != nil {
		t.Fatalf("reap() error: %v", err)
	}
	if got := store.Count(session.StatusRetained); got != 2 {
		t.Errorf("retained = %d, want 2", got)
	}
}

func TestReapAttemptsEverySession(t *testing.T) {
	store := session.NewMemoryStore()
	m := boundMission(t, store, models.CleanupDelete, "k1", "k2")
	// A session the store never saw.
	m.Subtasks = append(m.Subtasks, &models.Subtask{ID: "ghost", SessionKey: "missing", State: models.SubtaskSucceeded})
	r := &reaper{store: store, logger: hclog.NewNullLogger()}

	err := r.reap(context.Background(), m)
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("reap() error = %v, want ErrSessionNotFound", err)
	}
	if got := store.Count(session.StatusDiscarded); got != 2 {
		t.Errorf("discarded = %d, want 2 despite the failure", got)
	}
}

func TestReapNothingBound(t *testing.T) {
	m := &models.Mission{ID: "m1", CleanupPolicy: models.CleanupDelete, Subtasks: []*models.Subtask{{ID: "a"}}}
	r := &reaper{store: session.NewMemoryStore(), logger: hclog.NewNullLogger()}
	if err := r.reap(context.Background(), m); err != nil {
		t.Errorf("reap() error: %v", err)
	}
}
