package state

import (
	"context"
	"io"
	"time"

	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// MissionStore handles mission-related persistence operations.
type MissionStore interface {
	SaveMission(ctx context.Context, m *models.Mission) error
	RecordTransition(ctx context.Context, t models.Transition) error
	SaveReport(ctx context.Context, r *models.MissionReport) error
	GetMission(id string) (*MissionRecord, error)
	ListMissions(state models.MissionState, limit int) ([]MissionRecord, error)
	ListSubtasks(missionID string) ([]SubtaskRecord, error)
}

// SessionStore handles worker session persistence beyond session.Store.
type SessionStore interface {
	session.Store
	GetSession(key string) (*SessionRecord, error)
	ListSessions(missionID string) ([]SessionRecord, error)
	PurgeRetainedSessions(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// It composes focused sub-interfaces for better modularity.
type StateStore interface {
	io.Closer
	Migrator
	MissionStore
	SessionStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore    = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ MissionStore  = (*DB)(nil)
	_ SessionStore  = (*DB)(nil)
	_ session.Store = (*DB)(nil)
)
