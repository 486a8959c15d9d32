// Package executor fires due schedules: it runs their queries through pooled
// connections, records one ExecutionRecord per firing, evaluates alert conditions
// and hands positive verdicts to the notifier.
//
// Each firing is strictly sequential (evaluate, execute, record, notify). Different
// schedules run concurrently and a failure of one never affects the others.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/ports"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/alert"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schedule"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "executor"

const (
	DefaultConcurrency = 4
	DefaultSampleRows  = 3
)

// Summary reports one RunDue invocation.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Notified  int `json:"notified"`
	// Skipped counts due schedules not started because ctx was cancelled.
	Skipped int `json:"skipped"`
}

// Executor fires schedules.
type Executor struct {
	schedules    repository.Schedules
	executions   repository.Executions
	resolver     connector.Resolver
	notifier     ports.Notifier
	recorder     metrics.Recorder
	tracer       metrics.Tracer
	now          func() time.Time
	concurrency  int
	sampleRows   int
	queryTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(e *Executor) { e.recorder = r } }

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithConcurrency bounds the number of schedules fired in parallel.
func WithConcurrency(n int) Option { return func(e *Executor) { e.concurrency = n } }

// WithSampleRows sets how many result rows are embedded in a notification.
func WithSampleRows(n int) Option { return func(e *Executor) { e.sampleRows = n } }

// WithQueryTimeout overrides the pool's query timeout for scheduled queries.
func WithQueryTimeout(d time.Duration) Option { return func(e *Executor) { e.queryTimeout = d } }

// New creates an Executor.
func New(schedules repository.Schedules, executions repository.Executions, resolver connector.Resolver, notifier ports.Notifier, opts ...Option) *Executor {
	e := &Executor{
		schedules:   schedules,
		executions:  executions,
		resolver:    resolver,
		notifier:    notifier,
		recorder:    metrics.NoopRecorder{},
		tracer:      metrics.NoopTracer{},
		now:         time.Now,
		concurrency: DefaultConcurrency,
		sampleRows:  DefaultSampleRows,
	}
	for _, o := range opts {
		o(e)
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	if e.sampleRows < 0 {
		e.sampleRows = DefaultSampleRows
	}
	return e
}

// RunDue fires every active schedule that is due now. Per-schedule failures are
// recorded and counted. An error is returned when the schedules cannot be listed or
// when ctx is cancelled before every due schedule was started; running firings are
// awaited either way.
func (e *Executor) RunDue(ctx context.Context) (*Summary, error) {
	ctx, end := e.tracer.StartSpan(ctx, "executor.run_due", nil)
	defer end()

	active, err := e.schedules.ListSchedules(ctx, true)
	if err != nil {
		e.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	now := e.now()
	summary := &Summary{Evaluated: len(active)}

	var due []*model.ScheduleDefinition
	for _, s := range active {
		if schedule.IsDue(s, now) {
			due = append(due, s)
		}
	}
	summary.Due = len(due)
	if len(due) == 0 {
		logger.Debugf("executor: %d active schedules, none due", len(active))
		return summary, nil
	}
	logger.Infof("executor: %d of %d active schedules due", len(due), len(active))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, e.concurrency)
	)
dispatch:
	for i, s := range due {
		if ctx.Err() != nil {
			summary.Skipped = len(due) - i
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			summary.Skipped = len(due) - i
			break dispatch
		}
		wg.Add(1)
		go func(s *model.ScheduleDefinition) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("executor: schedule %s panicked: %v", s.ID, r)
					mu.Lock()
					summary.Failed++
					mu.Unlock()
				}
			}()

			rec, err := e.fire(ctx, s, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				logger.Warnf("executor: schedule %s failed: %v", s, err)
			} else {
				summary.Succeeded++
			}
			if rec != nil && rec.NotificationSent {
				summary.Notified++
			}
		}(s)
	}
	wg.Wait()
	if summary.Skipped > 0 {
		logger.Warnf("executor: cancelled with %d due schedules not started", summary.Skipped)
		return summary, ctx.Err()
	}
	return summary, nil
}

// RunNow fires one schedule immediately, skipping the due check. Only the owner may
// trigger it. The execution error, if any, is returned after the record is stored.
func (e *Executor) RunNow(ctx context.Context, scheduleID, principal string) (*model.ExecutionRecord, error) {
	if principal == "" {
		return nil, exception.NewAuthError(moduleName, "request is not authenticated")
	}
	s, err := e.schedules.FindScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != principal {
		return nil, exception.NewAuthError(moduleName, "schedule %s does not belong to %s", scheduleID, principal)
	}
	return e.fire(ctx, s, e.now())
}

// fire runs one firing of s at now and returns its stored record.
func (e *Executor) fire(ctx context.Context, s *model.ScheduleDefinition, now time.Time) (*model.ExecutionRecord, error) {
	ctx, end := e.tracer.StartSpan(ctx, "executor.fire", map[string]interface{}{
		"schedule.id": s.ID, "schedule.frequency": string(s.Frequency()),
	})
	defer end()

	rec := model.NewExecutionRecord(s, now)
	if err := e.executions.SaveExecution(ctx, rec); err != nil {
		e.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}

	rows, runErr := e.execute(ctx, s)
	completed := e.now()

	var verdict *alert.Verdict
	outcome := model.OutcomeSuccess
	if runErr != nil {
		outcome = model.OutcomeError
		if err := rec.Fail(runErr, completed); err != nil {
			logger.Errorf("executor: %v", err)
		}
		verdict = alert.Evaluate(nil, alert.Failure(rec.Error))
		e.tracer.RecordError(ctx, moduleName, runErr)
	} else {
		if err := rec.Succeed(rows, completed); err != nil {
			logger.Errorf("executor: %v", err)
		}
		verdict = alert.Evaluate(s.Notifications.Conditions, alert.Rows(rows))
	}
	e.recorder.RecordExecution(ctx, string(rec.Status), time.Duration(rec.DurationMs)*time.Millisecond)
	if verdict != nil {
		rec.AlertTriggered = true
		rec.AlertReason = verdict.Reason
	}

	if err := e.executions.UpdateExecution(ctx, rec); err != nil {
		logger.Errorf("executor: storing result of execution %s failed: %v", rec.ID, err)
	}
	if err := e.schedules.UpdateLastExecution(ctx, s.ID, now, outcome); err != nil {
		logger.Errorf("executor: updating last execution of schedule %s failed: %v", s.ID, err)
	}

	if verdict != nil {
		e.recorder.RecordAlert(ctx, string(verdict.Condition))
		if s.Notifications.Enabled && e.notify(ctx, s, rec, verdict) {
			if err := e.executions.UpdateExecution(ctx, rec); err != nil {
				logger.Errorf("executor: storing notification status of execution %s failed: %v", rec.ID, err)
			}
		}
	}

	if runErr != nil {
		return rec, runErr
	}
	logger.Infof("executor: schedule %s returned %d rows in %dms", s, rec.ResultCount, rec.DurationMs)
	return rec, nil
}

// execute resolves the connection, binds the parameters and runs the query.
func (e *Executor) execute(ctx context.Context, s *model.ScheduleDefinition) ([]model.Row, error) {
	p, _, err := e.resolver.Resolve(ctx, s.ConnectionID)
	if err != nil {
		return nil, err
	}
	query, args, err := pool.BindParameters(s.SQL, s.Parameters)
	if err != nil {
		return nil, err
	}
	res, err := pool.ExecuteQuery(ctx, p, query, args, e.queryTimeout)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// notify sends the notification for rec and updates its notification fields.
// It reports whether those fields changed; a report in which every channel was
// skipped leaves the record PENDING.
func (e *Executor) notify(ctx context.Context, s *model.ScheduleDefinition, rec *model.ExecutionRecord, v *alert.Verdict) bool {
	n := render(s, rec, v, e.sampleRows, e.now())
	report, err := e.notifier.Send(ctx, n, s.OwnerID)
	if err != nil {
		logger.Warnf("executor: notification for execution %s not sent: %v", rec.ID, err)
		rec.MarkNotified(false)
		return true
	}
	if !report.Attempted() {
		logger.Debugf("executor: notification for execution %s skipped on every channel", rec.ID)
		return false
	}
	for _, o := range report.Outcomes {
		if !o.Skipped {
			e.recorder.RecordNotification(ctx, string(o.Channel), o.Success)
		}
	}
	rec.MarkNotified(report.AnySucceeded())
	return true
}
