// Package repository defines the persistence contracts of querydeck.
// Implementations live under infrastructure/repository.
package repository

import (
	"context"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

const moduleName = "repository"

// Not-found sentinels. Each also matches exception.ErrNotFound.
var (
	ErrScheduleNotFound     = exception.NewNotFoundError(moduleName, "schedule not found")
	ErrExecutionNotFound    = exception.NewNotFoundError(moduleName, "execution record not found")
	ErrConnectionNotFound   = exception.NewNotFoundError(moduleName, "connection not found")
	ErrSnapshotNotFound     = exception.NewNotFoundError(moduleName, "schema snapshot not found")
	ErrDiffNotFound         = exception.NewNotFoundError(moduleName, "schema diff not found")
	ErrPreferencesNotFound  = exception.NewNotFoundError(moduleName, "notification preferences not found")
	ErrNotificationNotFound = exception.NewNotFoundError(moduleName, "notification not found")
)

// Schedules persists schedule definitions.
type Schedules interface {
	// SaveSchedule inserts or replaces a definition.
	SaveSchedule(ctx context.Context, s *model.ScheduleDefinition) error
	// FindScheduleByID returns ErrScheduleNotFound when absent.
	FindScheduleByID(ctx context.Context, id string) (*model.ScheduleDefinition, error)
	// ListSchedules lists every schedule; activeOnly restricts to active ones.
	ListSchedules(ctx context.Context, activeOnly bool) ([]*model.ScheduleDefinition, error)
	ListSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.ScheduleDefinition, error)
	// UpdateLastExecution sets lastExecutionAt and lastExecutionStatus only.
	UpdateLastExecution(ctx context.Context, id string, at time.Time, status model.ExecutionOutcome) error
	// DeleteSchedule removes the schedule together with all of its execution records.
	DeleteSchedule(ctx context.Context, id string) error
}

// Executions persists execution records.
type Executions interface {
	SaveExecution(ctx context.Context, r *model.ExecutionRecord) error
	UpdateExecution(ctx context.Context, r *model.ExecutionRecord) error
	FindExecutionByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
	// ListExecutionsBySchedule returns records newest first; limit <= 0 means no limit.
	ListExecutionsBySchedule(ctx context.Context, scheduleID string, limit int) ([]*model.ExecutionRecord, error)
	// ListExecutionIDsBefore returns up to limit ids of records with executionTime strictly before cutoff.
	ListExecutionIDsBefore(ctx context.Context, scheduleID string, cutoff time.Time, limit int) ([]string, error)
	// DeleteExecutions removes the given records and returns the number removed.
	DeleteExecutions(ctx context.Context, ids []string) (int, error)
}

// Connections persists target connection configurations.
type Connections interface {
	SaveConnection(ctx context.Context, c *model.ConnectionConfig) error
	FindConnectionByID(ctx context.Context, id string) (*model.ConnectionConfig, error)
	ListConnections(ctx context.Context) ([]*model.ConnectionConfig, error)
	ListConnectionsByOwner(ctx context.Context, ownerID string) ([]*model.ConnectionConfig, error)
	DeleteConnection(ctx context.Context, id string) error
}

// Snapshots persists schema snapshots, their version history and diffs.
type Snapshots interface {
	// FindCurrentSnapshot returns the current version for (owner, connection) or ErrSnapshotNotFound.
	FindCurrentSnapshot(ctx context.Context, ownerID, connectionID string) (*model.SnapshotVersion, error)
	// CommitSnapshot atomically makes v current, appends it to history and stores diff when non-nil.
	CommitSnapshot(ctx context.Context, v *model.SnapshotVersion, diff *model.DiffRecord) error
	// ListSnapshotVersions returns history newest first; limit <= 0 means no limit.
	ListSnapshotVersions(ctx context.Context, ownerID, connectionID string, limit int) ([]*model.SnapshotVersion, error)
	FindSnapshotVersion(ctx context.Context, versionID string) (*model.SnapshotVersion, error)
	FindDiff(ctx context.Context, oldVersionID, newVersionID string) (*model.DiffRecord, error)
}

// Preferences persists per-owner notification preferences.
type Preferences interface {
	FindPreferences(ctx context.Context, ownerID string) (*model.NotificationPreferences, error)
	SavePreferences(ctx context.Context, p *model.NotificationPreferences) error
}

// Notifications persists the in-app notification history.
type Notifications interface {
	SaveNotification(ctx context.Context, n *model.Notification) error
	// ListNotificationsByOwner returns notifications newest first; limit <= 0 means no limit.
	ListNotificationsByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Store bundles every repository of the metadata store.
type Store interface {
	Schedules
	Executions
	Connections
	Snapshots
	Preferences
	Notifications

	// Close releases resources held by the store.
	Close() error
}
