// Package store holds the target and current state snapshots of the
// device. Readers always get deep copies; writers persist before the
// in-memory swap so a restart resumes from the last written state.
package store

import (
	"context"
	"sync"

	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/types"
	"appmanager/internal/validation"
)

// Persister saves and loads snapshot documents
type Persister interface {
	Save(ctx context.Context, kind db.SnapshotKind, snap *types.StateSnapshot, version int64) error
	Load(ctx context.Context, kind db.SnapshotKind) (*types.StateSnapshot, int64, error)
}

// Store holds the target and current snapshots.
// Target writes never touch the reconciliation gate.
type Store struct {
	persist Persister

	mu            sync.RWMutex
	target        *types.StateSnapshot
	current       *types.StateSnapshot
	targetVersion int64

	// writeMu serialises persistence so versions hit disk in order
	writeMu sync.Mutex
}

// New creates a store backed by persist. A nil persister keeps state in
// memory only.
func New(persist Persister) *Store {
	return &Store{
		persist: persist,
		target:  types.NewSnapshot(),
		current: types.NewSnapshot(),
	}
}

// Load restores both snapshots from persistence.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	target, version, err := s.persist.Load(ctx, db.SnapshotTarget)
	if err != nil {
		return err
	}
	current, _, err := s.persist.Load(ctx, db.SnapshotCurrent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.target = target
	s.current = current
	s.targetVersion = version
	s.mu.Unlock()

	logger.WithFields(logger.Fields{
		"target_apps":    len(target.Apps),
		"current_apps":   len(current.Apps),
		"target_version": version,
	}).Info("Restored state snapshots")
	return nil
}

// GetTarget returns a copy of the target snapshot
func (s *Store) GetTarget() *types.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target.Clone()
}

// GetCurrent returns a copy of the current snapshot
func (s *Store) GetCurrent() *types.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// TargetVersion increases on every target write
func (s *Store) TargetVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetVersion
}

// SetTarget validates and replaces the whole target. It does not start
// reconciliation.
func (s *Store) SetTarget(ctx context.Context, snap *types.StateSnapshot) error {
	if err := validation.Snapshot(snap); err != nil {
		return err
	}
	next := snap.Clone()
	for _, app := range next.Apps {
		validation.Normalize(app)
	}
	return s.writeTarget(ctx, func(*types.StateSnapshot) *types.StateSnapshot { return next })
}

// SetTargetApp validates and replaces one application of the target.
func (s *Store) SetTargetApp(ctx context.Context, app *types.Application) error {
	if app == nil {
		return errors.ValidationFailed("app", "null", "application is required")
	}
	if err := validation.Application(app); err != nil {
		return err
	}
	next := app.Clone()
	validation.Normalize(next)

	return s.writeTarget(ctx, func(cur *types.StateSnapshot) *types.StateSnapshot {
		cur.Apps[next.AppID] = next
		return cur
	})
}

// RemoveTargetApp drops an application from the target.
func (s *Store) RemoveTargetApp(ctx context.Context, appID int) error {
	if _, ok := s.GetTarget().App(appID); !ok {
		return errors.AppNotFound(appID)
	}
	return s.writeTarget(ctx, func(cur *types.StateSnapshot) *types.StateSnapshot {
		delete(cur.Apps, appID)
		return cur
	})
}

func (s *Store) writeTarget(ctx context.Context, mutate func(*types.StateSnapshot) *types.StateSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := mutate(s.target.Clone())
	version := s.targetVersion + 1
	s.mu.RUnlock()

	if s.persist != nil {
		if err := s.persist.Save(ctx, db.SnapshotTarget, next, version); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.target = next
	s.targetVersion = version
	s.mu.Unlock()

	logger.WithFields(logger.Fields{
		"apps":     len(next.Apps),
		"services": next.ServiceCount(),
		"version":  version,
	}).Info("Target state updated")
	return nil
}

// SetCurrent replaces the current snapshot. Only the reconciler calls it,
// while holding its gate.
func (s *Store) SetCurrent(ctx context.Context, snap *types.StateSnapshot) error {
	next := snap.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(ctx, db.SnapshotCurrent, next, 0); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}
