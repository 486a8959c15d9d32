package model

import (
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// ExecutionStatus is the lifecycle state of one firing.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionError   ExecutionStatus = "ERROR"
)

// IsTerminal reports whether the status is SUCCESS or ERROR.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionError
}

// NotificationStatus tracks delivery for a firing.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Row is one result row keyed by column name.
type Row map[string]interface{}

// ExecutionRecord is the history entry of one schedule firing.
type ExecutionRecord struct {
	ID                 string
	ScheduleID         string
	ConnectionID       string
	OwnerID            string
	ExecutionTime      time.Time
	CompletionTime     *time.Time
	Status             ExecutionStatus
	SQL                string
	Parameters         []QueryParameter
	Results            []Row
	ResultCount        int
	Error              string
	NotificationSent   bool
	NotificationStatus NotificationStatus
	AlertTriggered     bool
	AlertReason        string
	DurationMs         int64
}

// NewExecutionRecord creates a RUNNING record for schedule s fired at now.
func NewExecutionRecord(s *ScheduleDefinition, now time.Time) *ExecutionRecord {
	params := make([]QueryParameter, len(s.Parameters))
	copy(params, s.Parameters)
	return &ExecutionRecord{
		ID:                 NewID(),
		ScheduleID:         s.ID,
		ConnectionID:       s.ConnectionID,
		OwnerID:            s.OwnerID,
		ExecutionTime:      now,
		Status:             ExecutionRunning,
		SQL:                s.SQL,
		Parameters:         params,
		NotificationStatus: NotificationPending,
	}
}

func (r *ExecutionRecord) finish(status ExecutionStatus, at time.Time) error {
	if r.Status.IsTerminal() {
		return exception.NewValidationError(moduleName, "execution %s is already %s", r.ID, r.Status)
	}
	r.Status = status
	r.CompletionTime = &at
	r.DurationMs = at.Sub(r.ExecutionTime).Milliseconds()
	return nil
}

// Succeed moves the record to SUCCESS with the result rows. It fails if the record is already terminal.
func (r *ExecutionRecord) Succeed(rows []Row, at time.Time) error {
	if err := r.finish(ExecutionSuccess, at); err != nil {
		return err
	}
	r.Results = rows
	r.ResultCount = len(rows)
	return nil
}

// Fail moves the record to ERROR with the error text. It fails if the record is already terminal.
func (r *ExecutionRecord) Fail(cause error, at time.Time) error {
	if err := r.finish(ExecutionError, at); err != nil {
		return err
	}
	r.Error = exception.ExtractErrorMessage(cause)
	return nil
}

// MarkNotified records the outcome of notification delivery.
func (r *ExecutionRecord) MarkNotified(delivered bool) {
	r.NotificationSent = delivered
	if delivered {
		r.NotificationStatus = NotificationSent
	} else {
		r.NotificationStatus = NotificationFailed
	}
}
