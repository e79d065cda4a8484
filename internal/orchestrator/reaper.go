package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/pkg/models"
)

const defaultReapConcurrency = 4

// reaper applies a closed mission's cleanup policy to its worker sessions.
type reaper struct {
	store       session.Store
	concurrency int
	logger      hclog.Logger
}

// reap discards (delete) or retains (keep) every bound session. Subtasks
// that never bound a session are left alone. Every session is attempted;
// the returned error joins all failures.
func (r *reaper) reap(ctx context.Context, m *models.Mission) error {
	var keys []string
	for _, st := range m.Subtasks {
		if st.SessionKey != "" {
			keys = append(keys, st.SessionKey)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	if m.CleanupPolicy == models.CleanupKeep {
		var errs []error
		for _, key := range keys {
			if err := r.store.Retain(ctx, key); err != nil {
				r.logger.Warn("failed to retain session", "mission", m.ID, "session", key, "error", err)
				errs = append(errs, fmt.Errorf("retain %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	}

	limit := r.concurrency
	if limit <= 0 {
		limit = defaultReapConcurrency
	}
	errs := make([]error, len(keys))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, key := range keys {
		g.Go(func() error {
			if err := r.store.Discard(ctx, key); err != nil {
				r.logger.Warn("failed to discard session", "mission", m.ID, "session", key, "error", err)
				errs[i] = fmt.Errorf("discard %s: %w", key, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Debug("sessions reaped", "mission", m.ID, "count", len(keys), "policy", m.CleanupPolicy)
	return errors.Join(errs...)
}
