// Package model holds the domain types of the scheduled-query engine:
// schedule definitions, alert conditions, execution records, connection
// configurations, schema snapshots and notifications.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

const moduleName = "model"

// DefaultRetentionDays is used when a schedule does not set MaxHistoryRetention.
const DefaultRetentionDays = 30

// NewID returns a new random identifier.
func NewID() string {
	return uuid.New().String()
}

// Frequency is the recurrence model of a schedule.
type Frequency string

const (
	FrequencyOnce    Frequency = "ONCE"
	FrequencyHourly  Frequency = "HOURLY"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// Recurrence is the sum type of the six recurrence shapes.
// Each variant carries only the fields relevant to its frequency.
type Recurrence interface {
	Frequency() Frequency
	isRecurrence()
}

// Once fires a single time, at the first evaluation at or after the start time.
type Once struct{}

// Hourly fires once per hour at Minute.
type Hourly struct {
	Minute int
}

// Daily fires once per day at Hour:Minute.
type Daily struct {
	Hour   int
	Minute int
}

// Weekly fires at Hour:Minute on each of DaysOfWeek.
type Weekly struct {
	DaysOfWeek []time.Weekday
	Hour       int
	Minute     int
}

// Monthly fires at Hour:Minute on DayOfMonth.
type Monthly struct {
	DayOfMonth int
	Hour       int
	Minute     int
}

// Custom fires whenever the 5-field cron expression matches.
type Custom struct {
	CronExpression string
}

func (Once) Frequency() Frequency    { return FrequencyOnce }
func (Hourly) Frequency() Frequency  { return FrequencyHourly }
func (Daily) Frequency() Frequency   { return FrequencyDaily }
func (Weekly) Frequency() Frequency  { return FrequencyWeekly }
func (Monthly) Frequency() Frequency { return FrequencyMonthly }
func (Custom) Frequency() Frequency  { return FrequencyCustom }

func (Once) isRecurrence()    {}
func (Hourly) isRecurrence()  {}
func (Daily) isRecurrence()   {}
func (Weekly) isRecurrence()  {}
func (Monthly) isRecurrence() {}
func (Custom) isRecurrence()  {}

// HasDay reports whether d is one of the configured days.
func (w Weekly) HasDay(d time.Weekday) bool {
	for _, day := range w.DaysOfWeek {
		if day == d {
			return true
		}
	}
	return false
}

// RecurrenceSpec is the flat, persisted form of a Recurrence.
// Fields not used by Frequency are ignored when converting.
type RecurrenceSpec struct {
	Frequency      Frequency `json:"frequency"`
	Minute         *int      `json:"minute,omitempty"`
	Hour           *int      `json:"hour,omitempty"`
	DayOfMonth     *int      `json:"dayOfMonth,omitempty"`
	DaysOfWeek     []int     `json:"daysOfWeek,omitempty"`
	CronExpression string    `json:"cronExpression,omitempty"`
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return exception.NewValidationError(moduleName, "%s must be between %d and %d, got %d", field, lo, hi, v)
	}
	return nil
}

// Recurrence validates s and converts it into its variant.
func (s RecurrenceSpec) Recurrence() (Recurrence, error) {
	minute := valueOr(s.Minute, 0)
	hour := valueOr(s.Hour, 0)
	switch s.Frequency {
	case FrequencyOnce:
		return Once{}, nil
	case FrequencyHourly:
		if err := checkRange("minute", minute, 0, 59); err != nil {
			return nil, err
		}
		return Hourly{Minute: minute}, nil
	case FrequencyDaily:
		if err := checkRange("minute", minute, 0, 59); err != nil {
			return nil, err
		}
		if err := checkRange("hour", hour, 0, 23); err != nil {
			return nil, err
		}
		return Daily{Hour: hour, Minute: minute}, nil
	case FrequencyWeekly:
		if err := checkRange("minute", minute, 0, 59); err != nil {
			return nil, err
		}
		if err := checkRange("hour", hour, 0, 23); err != nil {
			return nil, err
		}
		if len(s.DaysOfWeek) == 0 {
			return nil, exception.NewValidationError(moduleName, "weekly schedule requires at least one day of week")
		}
		days := make([]time.Weekday, 0, len(s.DaysOfWeek))
		seen := make(map[int]bool, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			if err := checkRange("daysOfWeek", d, 0, 6); err != nil {
				return nil, err
			}
			if !seen[d] {
				seen[d] = true
				days = append(days, time.Weekday(d))
			}
		}
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
		return Weekly{DaysOfWeek: days, Hour: hour, Minute: minute}, nil
	case FrequencyMonthly:
		dom := valueOr(s.DayOfMonth, 1)
		if err := checkRange("dayOfMonth", dom, 1, 31); err != nil {
			return nil, err
		}
		if err := checkRange("minute", minute, 0, 59); err != nil {
			return nil, err
		}
		if err := checkRange("hour", hour, 0, 23); err != nil {
			return nil, err
		}
		return Monthly{DayOfMonth: dom, Hour: hour, Minute: minute}, nil
	case FrequencyCustom:
		expr := strings.TrimSpace(s.CronExpression)
		if expr == "" {
			return nil, exception.NewValidationError(moduleName, "custom schedule requires a cron expression")
		}
		return Custom{CronExpression: expr}, nil
	default:
		return nil, exception.NewValidationError(moduleName, "unknown frequency %q", s.Frequency)
	}
}

// SpecOf flattens a Recurrence into its persisted form.
func SpecOf(r Recurrence) RecurrenceSpec {
	ip := func(v int) *int { return &v }
	switch v := r.(type) {
	case Hourly:
		return RecurrenceSpec{Frequency: FrequencyHourly, Minute: ip(v.Minute)}
	case Daily:
		return RecurrenceSpec{Frequency: FrequencyDaily, Hour: ip(v.Hour), Minute: ip(v.Minute)}
	case Weekly:
		days := make([]int, len(v.DaysOfWeek))
		for i, d := range v.DaysOfWeek {
			days[i] = int(d)
		}
		return RecurrenceSpec{Frequency: FrequencyWeekly, DaysOfWeek: days, Hour: ip(v.Hour), Minute: ip(v.Minute)}
	case Monthly:
		return RecurrenceSpec{Frequency: FrequencyMonthly, DayOfMonth: ip(v.DayOfMonth), Hour: ip(v.Hour), Minute: ip(v.Minute)}
	case Custom:
		return RecurrenceSpec{Frequency: FrequencyCustom, CronExpression: v.CronExpression}
	default:
		return RecurrenceSpec{Frequency: FrequencyOnce}
	}
}

// Timing is the schedule block of a definition.
type Timing struct {
	StartTime  time.Time
	EndTime    *time.Time
	Timezone   string
	Recurrence Recurrence
}

// Location resolves Timezone, falling back to UTC when it is empty or unknown.
func (t Timing) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParamType is the declared type of a query parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamDate    ParamType = "date"
)

// QueryParameter is a named, typed value bound into the schedule's SQL.
type QueryParameter struct {
	Name  string      `json:"name"`
	Type  ParamType   `json:"type"`
	Value interface{} `json:"value"`
}

// ExecutionOutcome is the last-run status stored on a schedule.
type ExecutionOutcome string

const (
	OutcomeNone    ExecutionOutcome = ""
	OutcomeSuccess ExecutionOutcome = "SUCCESS"
	OutcomeError   ExecutionOutcome = "ERROR"
)

// ScheduleDefinition is a stored, owner-scoped definition of a recurring query.
type ScheduleDefinition struct {
	ID                  string
	Name                string
	Description         string
	OwnerID             string
	ConnectionID        string
	SQL                 string
	Parameters          []QueryParameter
	Timing              Timing
	Notifications       NotificationSettings
	MaxHistoryRetention int
	Active              bool
	LastExecutionAt     *time.Time
	LastExecutionStatus ExecutionOutcome
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Frequency returns the frequency of the schedule's recurrence (ONCE if unset).
func (s *ScheduleDefinition) Frequency() Frequency {
	if s.Timing.Recurrence == nil {
		return FrequencyOnce
	}
	return s.Timing.Recurrence.Frequency()
}

// RetentionDays returns MaxHistoryRetention or DefaultRetentionDays when unset.
func (s *ScheduleDefinition) RetentionDays() int {
	if s.MaxHistoryRetention < 1 {
		return DefaultRetentionDays
	}
	return s.MaxHistoryRetention
}

// Validate checks the invariants of a definition before it is stored.
func (s *ScheduleDefinition) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return exception.NewValidationError(moduleName, "schedule name is required")
	}
	if s.OwnerID == "" {
		return exception.NewValidationError(moduleName, "schedule owner is required")
	}
	if s.ConnectionID == "" {
		return exception.NewValidationError(moduleName, "schedule connection is required")
	}
	if strings.TrimSpace(s.SQL) == "" {
		return exception.NewValidationError(moduleName, "schedule sql is required")
	}
	if s.Timing.StartTime.IsZero() {
		return exception.NewValidationError(moduleName, "schedule start time is required")
	}
	if s.Timing.EndTime != nil && s.Timing.EndTime.Before(s.Timing.StartTime) {
		return exception.NewValidationError(moduleName, "schedule end time precedes start time")
	}
	if s.Timing.Timezone != "" {
		if _, err := time.LoadLocation(s.Timing.Timezone); err != nil {
			return exception.NewValidationError(moduleName, "unknown timezone %q", s.Timing.Timezone)
		}
	}
	if s.Timing.Recurrence == nil {
		return exception.NewValidationError(moduleName, "schedule recurrence is required")
	}
	if _, err := SpecOf(s.Timing.Recurrence).Recurrence(); err != nil {
		return err
	}
	if s.MaxHistoryRetention < 0 {
		return exception.NewValidationError(moduleName, "maxHistoryRetention must be at least 1 day")
	}
	for i, p := range s.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return exception.NewValidationError(moduleName, "parameter %d has no name", i)
		}
		switch p.Type {
		case ParamString, ParamNumber, ParamBoolean, ParamDate, "":
		default:
			return exception.NewValidationError(moduleName, "parameter %s has unsupported type %q", p.Name, p.Type)
		}
	}
	return s.Notifications.Validate()
}

// String returns a short description used in logs.
func (s *ScheduleDefinition) String() string {
	return fmt.Sprintf("%s(%s, %s)", s.Name, s.ID, s.Frequency())
}
