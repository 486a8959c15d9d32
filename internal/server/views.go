package server

import (
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
)

type executionView struct {
	ID                 string                   `json:"id"`
	ScheduleID         string                   `json:"scheduleId"`
	ConnectionID       string                   `json:"connectionId"`
	ExecutionTime      time.Time                `json:"executionTime"`
	CompletionTime     *time.Time               `json:"completionTime,omitempty"`
	Status             model.ExecutionStatus    `json:"status"`
	ResultCount        int                      `json:"resultCount"`
	Results            []model.Row              `json:"results,omitempty"`
	Error              string                   `json:"error,omitempty"`
	NotificationSent   bool                     `json:"notificationSent"`
	NotificationStatus model.NotificationStatus `json:"notificationStatus"`
	AlertTriggered     bool                     `json:"alertTriggered"`
	AlertReason        string                   `json:"alertReason,omitempty"`
	DurationMs         int64                    `json:"durationMs"`
}

func viewExecution(r *model.ExecutionRecord, withResults bool) executionView {
	v := executionView{
		ID:                 r.ID,
		ScheduleID:         r.ScheduleID,
		ConnectionID:       r.ConnectionID,
		ExecutionTime:      r.ExecutionTime,
		CompletionTime:     r.CompletionTime,
		Status:             r.Status,
		ResultCount:        r.ResultCount,
		Error:              r.Error,
		NotificationSent:   r.NotificationSent,
		NotificationStatus: r.NotificationStatus,
		AlertTriggered:     r.AlertTriggered,
		AlertReason:        r.AlertReason,
		DurationMs:         r.DurationMs,
	}
	if withResults {
		v.Results = r.Results
	}
	return v
}

type versionView struct {
	VersionID    string                `json:"versionId"`
	ConnectionID string                `json:"connectionId"`
	TableCount   int                   `json:"tableCount"`
	CreatedAt    time.Time             `json:"createdAt"`
	Snapshot     *model.SchemaSnapshot `json:"snapshot,omitempty"`
}

func viewVersion(v *model.SnapshotVersion, withSnapshot bool) versionView {
	out := versionView{
		VersionID:    v.VersionID,
		ConnectionID: v.ConnectionID,
		TableCount:   v.TableCount,
		CreatedAt:    v.CreatedAt,
	}
	if withSnapshot {
		snap := v.Snapshot
		out.Snapshot = &snap
	}
	return out
}

type diffView struct {
	OldVersionID string           `json:"oldVersionId"`
	NewVersionID string           `json:"newVersionId"`
	Diff         model.SchemaDiff `json:"diff"`
	CreatedAt    time.Time        `json:"createdAt"`
}

func viewDiff(d *model.DiffRecord) *diffView {
	if d == nil {
		return nil
	}
	return &diffView{OldVersionID: d.OldVersionID, NewVersionID: d.NewVersionID, Diff: d.Diff, CreatedAt: d.CreatedAt}
}

type scheduleRequest struct {
	Name                string                     `json:"name"`
	Description         string                     `json:"description"`
	ConnectionID        string                     `json:"connectionId"`
	SQL                 string                     `json:"sql"`
	Parameters          []model.QueryParameter     `json:"parameters"`
	StartTime           time.Time                  `json:"startTime"`
	EndTime             *time.Time                 `json:"endTime"`
	Timezone            string                     `json:"timezone"`
	Recurrence          model.RecurrenceSpec       `json:"recurrence"`
	Notifications       model.NotificationSettings `json:"notifications"`
	MaxHistoryRetention int                        `json:"maxHistoryRetention"`
	Active              *bool                      `json:"active"`
}

// definition converts the request; a missing "active" defaults to true.
func (r scheduleRequest) definition(id string) (*model.ScheduleDefinition, error) {
	recurrence, err := r.Recurrence.Recurrence()
	if err != nil {
		return nil, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &model.ScheduleDefinition{
		ID:           id,
		Name:         r.Name,
		Description:  r.Description,
		ConnectionID: r.ConnectionID,
		SQL:          r.SQL,
		Parameters:   r.Parameters,
		Timing: model.Timing{
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			Timezone:   r.Timezone,
			Recurrence: recurrence,
		},
		Notifications:       r.Notifications,
		MaxHistoryRetention: r.MaxHistoryRetention,
		Active:              active,
	}, nil
}

type scheduleView struct {
	ID                  string                     `json:"id"`
	Name                string                     `json:"name"`
	Description         string                     `json:"description,omitempty"`
	OwnerID             string                     `json:"ownerId"`
	ConnectionID        string                     `json:"connectionId"`
	SQL                 string                     `json:"sql"`
	Parameters          []model.QueryParameter     `json:"parameters,omitempty"`
	StartTime           time.Time                  `json:"startTime"`
	EndTime             *time.Time                 `json:"endTime,omitempty"`
	Timezone            string                     `json:"timezone,omitempty"`
	Recurrence          model.RecurrenceSpec       `json:"recurrence"`
	Notifications       model.NotificationSettings `json:"notifications"`
	MaxHistoryRetention int                        `json:"maxHistoryRetention"`
	Active              bool                       `json:"active"`
	LastExecutionAt     *time.Time                 `json:"lastExecutionAt,omitempty"`
	LastExecutionStatus model.ExecutionOutcome     `json:"lastExecutionStatus,omitempty"`
	CreatedAt           time.Time                  `json:"createdAt"`
	UpdatedAt           time.Time                  `json:"updatedAt"`
}

func viewSchedule(d *model.ScheduleDefinition) scheduleView {
	return scheduleView{
		ID:                  d.ID,
		Name:                d.Name,
		Description:         d.Description,
		OwnerID:             d.OwnerID,
		ConnectionID:        d.ConnectionID,
		SQL:                 d.SQL,
		Parameters:          d.Parameters,
		StartTime:           d.Timing.StartTime,
		EndTime:             d.Timing.EndTime,
		Timezone:            d.Timing.Timezone,
		Recurrence:          model.SpecOf(d.Timing.Recurrence),
		Notifications:       d.Notifications,
		MaxHistoryRetention: d.RetentionDays(),
		Active:              d.Active,
		LastExecutionAt:     d.LastExecutionAt,
		LastExecutionStatus: d.LastExecutionStatus,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type pageView struct {
	Tables     map[string]model.TableSchema `json:"tables"`
	Offset     int                          `json:"offset"`
	NextOffset int                          `json:"nextOffset"`
	HasMore    bool                         `json:"hasMore"`
}

func viewPage(p *schema.Page) pageView {
	return pageView{Tables: p.Snapshot.Tables, Offset: p.Offset, NextOffset: p.NextOffset, HasMore: p.HasMore}
}

// sweepView is a sweep report, with the per-schedule failures of a partial sweep.
type sweepView struct {
	*retention.Report
	Errors []string `json:"errors,omitempty"`
}

type rowRequest struct {
	Key    map[string]interface{} `json:"key"`
	Values map[string]interface{} `json:"values"`
}
