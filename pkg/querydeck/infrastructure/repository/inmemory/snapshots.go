package inmemory

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// FindCurrentSnapshot returns the current version of (owner, connection).
func (s *Store) FindCurrentSnapshot(ctx context.Context, ownerID, connectionID string) (*model.SnapshotVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[ownerConn{ownerID, connectionID}]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	v := *s.versions[id]
	return &v, nil
}

// CommitSnapshot makes v current, appends it to the history and stores diff, under one lock.
func (s *Store) CommitSnapshot(ctx context.Context, v *model.SnapshotVersion, diff *model.DiffRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerConn{v.OwnerID, v.ConnectionID}
	cp := *v
	s.versions[v.VersionID] = &cp
	s.history[key] = append(s.history[key], v.VersionID)
	s.current[key] = v.VersionID
	if diff != nil {
		d := *diff
		s.diffs[diffKey{diff.OldVersionID, diff.NewVersionID}] = &d
	}
	return nil
}

// ListSnapshotVersions returns the history newest first.
func (s *Store) ListSnapshotVersions(ctx context.Context, ownerID, connectionID string, limit int) ([]*model.SnapshotVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[ownerConn{ownerID, connectionID}]
	out := make([]*model.SnapshotVersion, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		v := *s.versions[ids[i]]
		out = append(out, &v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// FindSnapshotVersion returns one version of the history.
func (s *Store) FindSnapshotVersion(ctx context.Context, versionID string) (*model.SnapshotVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	cp := *v
	return &cp, nil
}

// FindDiff returns the stored diff between two versions.
func (s *Store) FindDiff(ctx context.Context, oldVersionID, newVersionID string) (*model.DiffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diffs[diffKey{oldVersionID, newVersionID}]
	if !ok {
		return nil, repository.ErrDiffNotFound
	}
	cp := *d
	return &cp, nil
}
