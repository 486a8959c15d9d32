package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

const moduleName = "inmemory"

func cloneExecution(r *model.ExecutionRecord) *model.ExecutionRecord {
	c := *r
	c.Parameters = append([]model.QueryParameter(nil), r.Parameters...)
	if r.Results != nil {
		c.Results = make([]model.Row, len(r.Results))
		for i, row := range r.Results {
			cp := make(model.Row, len(row))
			for k, v := range row {
				cp[k] = v
			}
			c.Results[i] = cp
		}
	}
	if r.CompletionTime != nil {
		t := *r.CompletionTime
		c.CompletionTime = &t
	}
	return &c
}

// SaveExecution stores a new record. It fails if the id is already taken.
func (s *Store) SaveExecution(ctx context.Context, r *model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[r.ID]; exists {
		return exception.NewStoreError(moduleName, fmt.Sprintf("execution %s already exists", r.ID), nil)
	}
	s.executions[r.ID] = cloneExecution(r)
	return nil
}

// UpdateExecution replaces an existing record.
func (s *Store) UpdateExecution(ctx context.Context, r *model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[r.ID]; !exists {
		return repository.ErrExecutionNotFound
	}
	s.executions[r.ID] = cloneExecution(r)
	return nil
}

// FindExecutionByID returns a copy of the record.
func (s *Store) FindExecutionByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.executions[id]
	if !ok {
		return nil, repository.ErrExecutionNotFound
	}
	return cloneExecution(r), nil
}

// ListExecutionsBySchedule returns records newest first.
func (s *Store) ListExecutionsBySchedule(ctx context.Context, scheduleID string, limit int) ([]*model.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.ExecutionRecord{}
	for _, r := range s.executions {
		if r.ScheduleID == scheduleID {
			out = append(out, cloneExecution(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutionTime.Equal(out[j].ExecutionTime) {
			return out[i].ExecutionTime.After(out[j].ExecutionTime)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExecutionIDsBefore returns the oldest ids first, up to limit.
func (s *Store) ListExecutionIDsBefore(ctx context.Context, scheduleID string, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := []*model.ExecutionRecord{}
	for _, r := range s.executions {
		if r.ScheduleID == scheduleID && r.ExecutionTime.Before(cutoff) {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ExecutionTime.Before(matches[j].ExecutionTime) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	ids := make([]string, len(matches))
	for i, r := range matches {
		ids[i] = r.ID
	}
	return ids, nil
}

// DeleteExecutions removes the records that exist and returns how many were removed.
func (s *Store) DeleteExecutions(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.executions[id]; ok {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}
