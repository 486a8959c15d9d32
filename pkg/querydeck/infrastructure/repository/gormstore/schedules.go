package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

func toDomainSchedules(entities []ScheduleEntity) ([]*model.ScheduleDefinition, error) {
	out := make([]*model.ScheduleDefinition, 0, len(entities))
	for i := range entities {
		s, err := toDomainSchedule(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveSchedule inserts or replaces a definition.
func (s *Store) SaveSchedule(ctx context.Context, def *model.ScheduleDefinition) error {
	entity, err := fromDomainSchedule(def)
	if err != nil {
		return err
	}
	return translate(s.conn(ctx).Save(entity).Error, nil, "failed to save schedule %s", def.ID)
}

// FindScheduleByID returns one schedule.
func (s *Store) FindScheduleByID(ctx context.Context, id string) (*model.ScheduleDefinition, error) {
	var entity ScheduleEntity
	if err := s.conn(ctx).Where("id = ?", id).Take(&entity).Error; err != nil {
		return nil, translate(err, repository.ErrScheduleNotFound, "failed to find schedule %s", id)
	}
	return toDomainSchedule(&entity)
}

// ListSchedules lists schedules ordered by creation time.
func (s *Store) ListSchedules(ctx context.Context, activeOnly bool) ([]*model.ScheduleDefinition, error) {
	q := s.conn(ctx).Order("created_at ASC, id ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var entities []ScheduleEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err, nil, "failed to list schedules")
	}
	return toDomainSchedules(entities)
}

// ListSchedulesByOwner lists the schedules of one owner.
func (s *Store) ListSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.ScheduleDefinition, error) {
	var entities []ScheduleEntity
	err := s.conn(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC, id ASC").Find(&entities).Error
	if err != nil {
		return nil, translate(err, nil, "failed to list schedules of %s", ownerID)
	}
	return toDomainSchedules(entities)
}

// UpdateLastExecution sets the last-run fields only.
func (s *Store) UpdateLastExecution(ctx context.Context, id string, at time.Time, status model.ExecutionOutcome) error {
	res := s.conn(ctx).Model(&ScheduleEntity{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_execution_at":     at.UTC(),
		"last_execution_status": string(status),
	})
	if res.Error != nil {
		return translate(res.Error, nil, "failed to update last execution of schedule %s", id)
	}
	if res.RowsAffected == 0 {
		ok, err := s.exists(ctx, &ScheduleEntity{}, "id = ?", id)
		if err != nil {
			return translate(err, nil, "failed to check schedule %s", id)
		}
		if !ok {
			return repository.ErrScheduleNotFound
		}
	}
	return nil
}

// DeleteSchedule removes the schedule and its execution records in one transaction.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&ScheduleEntity{})
		if res.Error != nil {
			return translate(res.Error, nil, "failed to delete schedule %s", id)
		}
		if res.RowsAffected == 0 {
			return repository.ErrScheduleNotFound
		}
		if err := tx.Where("schedule_id = ?", id).Delete(&ExecutionEntity{}).Error; err != nil {
			return translate(err, nil, "failed to delete executions of schedule %s", id)
		}
		return nil
	})
}
