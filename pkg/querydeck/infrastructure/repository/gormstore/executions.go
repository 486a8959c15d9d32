package gormstore

import (
	"context"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// SaveExecution inserts a new record. A duplicate id is a StoreError.
func (s *Store) SaveExecution(ctx context.Context, r *model.ExecutionRecord) error {
	entity, err := fromDomainExecution(r)
	if err != nil {
		return err
	}
	return translate(s.conn(ctx).Create(entity).Error, nil, "failed to save execution %s", r.ID)
}

// UpdateExecution replaces every column of an existing record.
func (s *Store) UpdateExecution(ctx context.Context, r *model.ExecutionRecord) error {
	entity, err := fromDomainExecution(r)
	if err != nil {
		return err
	}
	res := s.conn(ctx).Model(&ExecutionEntity{}).Where("id = ?", r.ID).Select("*").Omit("id").Updates(entity)
	if res.Error != nil {
		return translate(res.Error, nil, "failed to update execution %s", r.ID)
	}
	if res.RowsAffected == 0 {
		// MySQL reports changed rows, not matched rows.
		ok, err := s.exists(ctx, &ExecutionEntity{}, "id = ?", r.ID)
		if err != nil {
			return translate(err, nil, "failed to check execution %s", r.ID)
		}
		if !ok {
			return repository.ErrExecutionNotFound
		}
	}
	return nil
}

// FindExecutionByID returns one record.
func (s *Store) FindExecutionByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	var entity ExecutionEntity
	if err := s.conn(ctx).Where("id = ?", id).Take(&entity).Error; err != nil {
		return nil, translate(err, repository.ErrExecutionNotFound, "failed to find execution %s", id)
	}
	return toDomainExecution(&entity)
}

// ListExecutionsBySchedule returns records newest first.
func (s *Store) ListExecutionsBySchedule(ctx context.Context, scheduleID string, limit int) ([]*model.ExecutionRecord, error) {
	q := s.conn(ctx).Where("schedule_id = ?", scheduleID).Order("execution_time DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []ExecutionEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err, nil, "failed to list executions of schedule %s", scheduleID)
	}
	out := make([]*model.ExecutionRecord, 0, len(entities))
	for i := range entities {
		r, err := toDomainExecution(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ListExecutionIDsBefore returns the oldest ids first, up to limit.
func (s *Store) ListExecutionIDsBefore(ctx context.Context, scheduleID string, cutoff time.Time, limit int) ([]string, error) {
	q := s.conn(ctx).Model(&ExecutionEntity{}).
		Where("schedule_id = ? AND execution_time < ?", scheduleID, cutoff.UTC()).
		Order("execution_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	ids := []string{}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, translate(err, nil, "failed to list expired executions of schedule %s", scheduleID)
	}
	return ids, nil
}

// DeleteExecutions removes the records that exist and returns how many were removed.
func (s *Store) DeleteExecutions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).Where("id IN ?", ids).Delete(&ExecutionEntity{})
	if res.Error != nil {
		return 0, translate(res.Error, nil, "failed to delete %d executions", len(ids))
	}
	return int(res.RowsAffected), nil
}
