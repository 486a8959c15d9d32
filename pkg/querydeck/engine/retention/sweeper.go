// Package retention deletes execution history older than each schedule's retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "retention"

// DefaultBatchSize bounds the number of records deleted per store call.
const DefaultBatchSize = 500

// Report summarizes one sweep.
type Report struct {
	Schedules   int            `json:"schedules"`
	Deleted     int            `json:"deleted"`
	PerSchedule map[string]int `json:"perSchedule,omitempty"`
	Failed      []string       `json:"failed,omitempty"`
}

// Sweeper deletes expired execution records.
type Sweeper struct {
	schedules   repository.Schedules
	executions  repository.Executions
	batchSize   int
	defaultDays int
	now         func() time.Time
	recorder    metrics.Recorder
	tracer      metrics.Tracer
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize sets the per-call delete limit.
func WithBatchSize(n int) Option { return func(s *Sweeper) { s.batchSize = n } }

// WithDefaultDays sets the window used for schedules without MaxHistoryRetention.
func WithDefaultDays(days int) Option { return func(s *Sweeper) { s.defaultDays = days } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Sweeper) { s.recorder = r } }

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option { return func(s *Sweeper) { s.tracer = t } }

// NewSweeper creates a Sweeper.
func NewSweeper(schedules repository.Schedules, executions repository.Executions, opts ...Option) *Sweeper {
	s := &Sweeper{
		schedules:   schedules,
		executions:  executions,
		batchSize:   DefaultBatchSize,
		defaultDays: model.DefaultRetentionDays,
		now:         time.Now,
		recorder:    metrics.NoopRecorder{},
		tracer:      metrics.NoopTracer{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.batchSize < 1 {
		s.batchSize = DefaultBatchSize
	}
	if s.defaultDays < 1 {
		s.defaultDays = model.DefaultRetentionDays
	}
	return s
}

// Cutoff returns the instant before which records of def are expired.
func (s *Sweeper) Cutoff(def *model.ScheduleDefinition, now time.Time) time.Time {
	days := def.MaxHistoryRetention
	if days < 1 {
		days = s.defaultDays
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// Sweep processes every schedule, active or not. A failing schedule is logged and
// skipped; the returned error aggregates every per-schedule RetentionSweepError.
// Listing the schedules is the only failure that stops the sweep early.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	ctx, end := s.tracer.StartSpan(ctx, "retention.sweep", nil)
	defer end()

	defs, err := s.schedules.ListSchedules(ctx, false)
	if err != nil {
		s.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	now := s.now()
	report := &Report{Schedules: len(defs), PerSchedule: map[string]int{}}

	var errs *multierror.Error
	for _, def := range defs {
		n, err := s.sweepSchedule(ctx, def, s.Cutoff(def, now))
		report.Deleted += n
		if n > 0 {
			report.PerSchedule[def.ID] = n
		}
		if err != nil {
			logger.Errorf("retention: sweeping schedule %s failed after %d deletions: %v", def.ID, n, err)
			report.Failed = append(report.Failed, def.ID)
			errs = multierror.Append(errs, exception.NewRetentionSweepError(moduleName,
				fmt.Sprintf("failed to sweep history of schedule %s", def.ID), err))
			continue
		}
		if n > 0 {
			logger.Infof("retention: deleted %d records of schedule %s", n, def.ID)
		}
	}
	s.recorder.RecordRetentionDeleted(ctx, report.Deleted)
	s.recorder.RecordDuration(ctx, "retention_sweep", s.now().Sub(now), nil)
	logger.Infof("retention: swept %d schedules, deleted %d records, %d failures", report.Schedules, report.Deleted, len(report.Failed))
	return report, errs.ErrorOrNil()
}

// sweepSchedule deletes batch after batch of records older than cutoff until none remain.
func (s *Sweeper) sweepSchedule(ctx context.Context, def *model.ScheduleDefinition, cutoff time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := s.executions.ListExecutionIDsBefore(ctx, def.ID, cutoff, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		n, err := s.executions.DeleteExecutions(ctx, ids)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			// Nothing matched; stop instead of listing the same ids forever.
			return total, nil
		}
		if len(ids) < s.batchSize {
			return total, nil
		}
	}
}
