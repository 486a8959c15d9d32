package executor

import (
	"context"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// Service manages schedule definitions on behalf of an authenticated principal.
type Service struct {
	schedules   repository.Schedules
	executions  repository.Executions
	connections repository.Connections
	now         func() time.Time
}

// NewService creates a Service.
func NewService(schedules repository.Schedules, executions repository.Executions, connections repository.Connections) *Service {
	return &Service{schedules: schedules, executions: executions, connections: connections, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func requirePrincipal(principal string) error {
	if principal == "" {
		return exception.NewAuthError(moduleName, "request is not authenticated")
	}
	return nil
}

func (s *Service) owned(ctx context.Context, id, principal string) (*model.ScheduleDefinition, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	def, err := s.schedules.FindScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.OwnerID != principal {
		return nil, exception.NewAuthError(moduleName, "schedule %s does not belong to %s", id, principal)
	}
	return def, nil
}

func (s *Service) checkConnection(ctx context.Context, def *model.ScheduleDefinition) error {
	conn, err := s.connections.FindConnectionByID(ctx, def.ConnectionID)
	if err != nil {
		return err
	}
	if conn.OwnerID != def.OwnerID {
		return exception.NewAuthError(moduleName, "connection %s does not belong to %s", def.ConnectionID, def.OwnerID)
	}
	return nil
}

// Create validates and stores a new definition owned by principal.
func (s *Service) Create(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	def.ID = model.NewID()
	def.OwnerID = principal
	def.LastExecutionAt = nil
	def.LastExecutionStatus = model.OutcomeNone
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkConnection(ctx, def); err != nil {
		return nil, err
	}
	now := s.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := s.schedules.SaveSchedule(ctx, def); err != nil {
		return nil, err
	}
	logger.Infof("executor: schedule %s created by %s", def, principal)
	return def, nil
}

// Update replaces the editable fields of an existing definition.
// Ownership, creation time and last-run fields are preserved.
func (s *Service) Update(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error) {
	existing, err := s.owned(ctx, def.ID, principal)
	if err != nil {
		return nil, err
	}
	def.OwnerID = existing.OwnerID
	def.CreatedAt = existing.CreatedAt
	def.LastExecutionAt = existing.LastExecutionAt
	def.LastExecutionStatus = existing.LastExecutionStatus
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.ConnectionID != existing.ConnectionID {
		if err := s.checkConnection(ctx, def); err != nil {
			return nil, err
		}
	}
	def.UpdatedAt = s.now()
	if err := s.schedules.SaveSchedule(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Get returns one of principal's definitions.
func (s *Service) Get(ctx context.Context, principal, id string) (*model.ScheduleDefinition, error) {
	return s.owned(ctx, id, principal)
}

// List returns principal's definitions.
func (s *Service) List(ctx context.Context, principal string) ([]*model.ScheduleDefinition, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	return s.schedules.ListSchedulesByOwner(ctx, principal)
}

// SetActive toggles a definition on or off.
func (s *Service) SetActive(ctx context.Context, principal, id string, active bool) (*model.ScheduleDefinition, error) {
	def, err := s.owned(ctx, id, principal)
	if err != nil {
		return nil, err
	}
	if def.Active == active {
		return def, nil
	}
	def.Active = active
	def.UpdatedAt = s.now()
	if err := s.schedules.SaveSchedule(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Delete removes a definition and its execution history.
func (s *Service) Delete(ctx context.Context, principal, id string) error {
	if _, err := s.owned(ctx, id, principal); err != nil {
		return err
	}
	if err := s.schedules.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	logger.Infof("executor: schedule %s deleted by %s", id, principal)
	return nil
}

// History returns the newest execution records of a schedule.
func (s *Service) History(ctx context.Context, principal, id string, limit int) ([]*model.ExecutionRecord, error) {
	if _, err := s.owned(ctx, id, principal); err != nil {
		return nil, err
	}
	return s.executions.ListExecutionsBySchedule(ctx, id, limit)
}
