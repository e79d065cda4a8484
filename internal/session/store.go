package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// ErrSessionExists is returned when allocating a key that is already in use.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound is returned when a key has no allocated session.
var ErrSessionNotFound = errors.New("session not found")

// Status is the lifecycle state of a worker session.
type Status string

const (
	StatusActive    Status = "active"
	StatusRetained  Status = "retained"
	StatusDiscarded Status = "discarded"
)

// Allocation describes a worker session to create.
type Allocation struct {
	SessionKey  string
	MissionID   string
	SubtaskID   string
	AgentID     string
	Label       string
	DelegatedBy string
	Origin      models.Origin
}

// Store persists worker sessions. Implementations must be safe for
// concurrent use.
type Store interface {
	Allocate(ctx context.Context, a Allocation) error
	Discard(ctx context.Context, key string) error
	Retain(ctx context.Context, key string) error
}

// Record is a stored session and its status.
type Record struct {
	Allocation
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Record)}
}

// Allocate records a new active session. A discarded key may be reused.
func (s *MemoryStore) Allocate(ctx context.Context, a Allocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[a.SessionKey]; ok && rec.Status != StatusDiscarded {
		return fmt.Errorf("%w: %s", ErrSessionExists, a.SessionKey)
	}
	now := time.Now()
	s.sessions[a.SessionKey] = &Record{Allocation: a, Status: StatusActive, CreatedAt: now, UpdatedAt: now}
	return nil
}

// Discard marks the session as torn down.
func (s *MemoryStore) Discard(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusDiscarded)
}

// Retain marks the session as kept for inspection.
func (s *MemoryStore) Retain(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusRetained)
}

func (s *MemoryStore) setStatus(ctx context.Context, key string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of the session record for key.
func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns all session records sorted by key.
func (s *MemoryStore) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// Count returns how many sessions have the given status.
func (s *MemoryStore) Count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.sessions {
		if rec.Status == status {
			n++
		}
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
