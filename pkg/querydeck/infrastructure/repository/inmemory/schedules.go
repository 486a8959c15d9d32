package inmemory

import (
	"context"
	"sort"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

func cloneSchedule(s *model.ScheduleDefinition) *model.ScheduleDefinition {
	c := *s
	c.Parameters = append([]model.QueryParameter(nil), s.Parameters...)
	if s.LastExecutionAt != nil {
		t := *s.LastExecutionAt
		c.LastExecutionAt = &t
	}
	if s.Timing.EndTime != nil {
		t := *s.Timing.EndTime
		c.Timing.EndTime = &t
	}
	c.Notifications.Channels = append([]model.Channel(nil), s.Notifications.Channels...)
	c.Notifications.Recipients = append([]string(nil), s.Notifications.Recipients...)
	c.Notifications.Conditions = append([]model.AlertCondition(nil), s.Notifications.Conditions...)
	if s.Notifications.Webhook != nil {
		w := *s.Notifications.Webhook
		c.Notifications.Webhook = &w
	}
	return &c
}

// SaveSchedule inserts or replaces a definition.
func (s *Store) SaveSchedule(ctx context.Context, def *model.ScheduleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[def.ID] = cloneSchedule(def)
	return nil
}

// FindScheduleByID returns a copy of the schedule.
func (s *Store) FindScheduleByID(ctx context.Context, id string) (*model.ScheduleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.schedules[id]
	if !ok {
		return nil, repository.ErrScheduleNotFound
	}
	return cloneSchedule(def), nil
}

func (s *Store) listSchedules(match func(*model.ScheduleDefinition) bool) []*model.ScheduleDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ScheduleDefinition, 0, len(s.schedules))
	for _, def := range s.schedules {
		if match(def) {
			out = append(out, cloneSchedule(def))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListSchedules lists schedules ordered by creation time.
func (s *Store) ListSchedules(ctx context.Context, activeOnly bool) ([]*model.ScheduleDefinition, error) {
	return s.listSchedules(func(d *model.ScheduleDefinition) bool { return !activeOnly || d.Active }), nil
}

// ListSchedulesByOwner lists the schedules of one owner.
func (s *Store) ListSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.ScheduleDefinition, error) {
	return s.listSchedules(func(d *model.ScheduleDefinition) bool { return d.OwnerID == ownerID }), nil
}

// UpdateLastExecution sets the last-run fields only.
func (s *Store) UpdateLastExecution(ctx context.Context, id string, at time.Time, status model.ExecutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.schedules[id]
	if !ok {
		return repository.ErrScheduleNotFound
	}
	def.LastExecutionAt = &at
	def.LastExecutionStatus = status
	return nil
}

// DeleteSchedule removes the schedule and its execution records.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return repository.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	for eid, r := range s.executions {
		if r.ScheduleID == id {
			delete(s.executions, eid)
		}
	}
	return nil
}
