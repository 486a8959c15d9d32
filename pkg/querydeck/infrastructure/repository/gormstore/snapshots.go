package gormstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// FindCurrentSnapshot resolves the current pointer of (owner, connection) to its version.
func (s *Store) FindCurrentSnapshot(ctx context.Context, ownerID, connectionID string) (*model.SnapshotVersion, error) {
	var current CurrentSnapshotEntity
	err := s.conn(ctx).Where("owner_id = ? AND connection_id = ?", ownerID, connectionID).Take(&current).Error
	if err != nil {
		return nil, translate(err, repository.ErrSnapshotNotFound, "failed to find current snapshot of %s/%s", ownerID, connectionID)
	}
	return s.FindSnapshotVersion(ctx, current.VersionID)
}

// CommitSnapshot appends v to the history, moves the current pointer and stores diff in one transaction.
func (s *Store) CommitSnapshot(ctx context.Context, v *model.SnapshotVersion, diff *model.DiffRecord) error {
	version, err := fromDomainVersion(v)
	if err != nil {
		return err
	}
	var diffEntity *DiffEntity
	if diff != nil {
		if diffEntity, err = fromDomainDiff(diff); err != nil {
			return err
		}
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(version).Error; err != nil {
			return translate(err, nil, "failed to append snapshot version %s", v.VersionID)
		}
		current := &CurrentSnapshotEntity{
			OwnerID:      v.OwnerID,
			ConnectionID: v.ConnectionID,
			VersionID:    v.VersionID,
			UpdatedAt:    utc(v.CreatedAt),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "connection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"version_id", "updated_at"}),
		}).Create(current).Error
		if err != nil {
			return translate(err, nil, "failed to move current snapshot of %s/%s", v.OwnerID, v.ConnectionID)
		}
		if diffEntity != nil {
			if err := tx.Create(diffEntity).Error; err != nil {
				return translate(err, nil, "failed to store diff %s..%s", diff.OldVersionID, diff.NewVersionID)
			}
		}
		return nil
	})
}

// ListSnapshotVersions returns the history of (owner, connection) newest first.
func (s *Store) ListSnapshotVersions(ctx context.Context, ownerID, connectionID string, limit int) ([]*model.SnapshotVersion, error) {
	q := s.conn(ctx).Where("owner_id = ? AND connection_id = ?", ownerID, connectionID).
		Order("created_at DESC, version_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []SnapshotVersionEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err, nil, "failed to list snapshot versions of %s/%s", ownerID, connectionID)
	}
	out := make([]*model.SnapshotVersion, 0, len(entities))
	for i := range entities {
		v, err := toDomainVersion(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindSnapshotVersion returns one version by id.
func (s *Store) FindSnapshotVersion(ctx context.Context, versionID string) (*model.SnapshotVersion, error) {
	var entity SnapshotVersionEntity
	if err := s.conn(ctx).Where("version_id = ?", versionID).Take(&entity).Error; err != nil {
		return nil, translate(err, repository.ErrSnapshotNotFound, "failed to find snapshot version %s", versionID)
	}
	return toDomainVersion(&entity)
}

// FindDiff returns the stored diff between two versions.
func (s *Store) FindDiff(ctx context.Context, oldVersionID, newVersionID string) (*model.DiffRecord, error) {
	var entity DiffEntity
	err := s.conn(ctx).Where("old_version_id = ? AND new_version_id = ?", oldVersionID, newVersionID).Take(&entity).Error
	if err != nil {
		return nil, translate(err, repository.ErrDiffNotFound, "failed to find diff %s..%s", oldVersionID, newVersionID)
	}
	return toDomainDiff(&entity)
}
