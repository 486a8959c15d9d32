package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

var monday = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

// mapResolver hands out one sqlmock-backed pool per connection id.
type mapResolver map[string]*pool.Pool

func (m mapResolver) Resolve(_ context.Context, id string) (*pool.Pool, *model.ConnectionConfig, error) {
	p, ok := m[id]
	if !ok {
		return nil, nil, exception.NewNotFoundError("test", "connection %s not found", id)
	}
	return p, &model.ConnectionConfig{ID: id}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []*model.Notification
	err   error
	fails bool
	skips bool
}

func (n *recordingNotifier) Send(_ context.Context, msg *model.Notification, _ string) (model.DeliveryReport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	if n.err != nil {
		return model.DeliveryReport{}, n.err
	}
	report := model.DeliveryReport{}
	for _, ch := range msg.Channels {
		report.Outcomes = append(report.Outcomes, model.ChannelOutcome{Channel: ch, Success: !n.fails && !n.skips, Skipped: n.skips})
	}
	return report, nil
}

func (n *recordingNotifier) all() []*model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.Notification(nil), n.sent...)
}

// updateLog keeps a copy of every record passed to UpdateExecution.
type updateLog struct {
	*inmemory.Store
	mu      sync.Mutex
	updates []model.ExecutionRecord
}

func (u *updateLog) UpdateExecution(ctx context.Context, r *model.ExecutionRecord) error {
	u.mu.Lock()
	u.updates = append(u.updates, *r)
	u.mu.Unlock()
	return u.Store.UpdateExecution(ctx, r)
}

func mockPool(t *testing.T) (*pool.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := pool.NewRegistry(pool.WithOpenFunc(func(pool.Credentials, pool.Options) (*sql.DB, error) { return db, nil }))
	p, err := reg.GetPool(context.Background(), pool.Credentials{Host: "h", Port: 3306, Database: "sales", User: "u"}, pool.Options{})
	require.NoError(t, err)
	return p, mock
}

func definition(id, conn string, r model.Recurrence, conditions ...model.AlertCondition) *model.ScheduleDefinition {
	return &model.ScheduleDefinition{
		ID:           id,
		Name:         "report " + id,
		OwnerID:      "alice",
		ConnectionID: conn,
		SQL:          "SELECT id, total FROM orders",
		Timing:       model.Timing{StartTime: monday.AddDate(0, -1, 0), Recurrence: r},
		Notifications: model.NotificationSettings{
			Enabled:    true,
			Channels:   []model.Channel{model.ChannelEmail},
			Conditions: conditions,
		},
		Active:    true,
		CreatedAt: monday.AddDate(0, -1, 0),
	}
}

func newExecutor(store *inmemory.Store, resolver connector.Resolver, notifier *recordingNotifier) *executor.Executor {
	return executor.New(store, store, resolver, notifier, executor.WithClock(func() time.Time { return monday }))
}

func TestRunDue_WeeklyNoResults(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	p, mock := mockPool(t)

	last := monday.AddDate(0, 0, -7)
	def := definition("s1", "c1", model.Weekly{DaysOfWeek: []time.Weekday{time.Monday}, Hour: 9},
		model.AlertCondition{Type: model.ConditionNoResults})
	def.LastExecutionAt = &last
	require.NoError(t, store.SaveSchedule(ctx, def))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, total FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}))

	notifier := &recordingNotifier{}
	summary, err := newExecutor(store, mapResolver{"c1": p}, notifier).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &executor.Summary{Evaluated: 1, Due: 1, Succeeded: 1, Notified: 1}, summary)
	assert.NoError(t, mock.ExpectationsWereMet())

	history, err := store.ListExecutionsBySchedule(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	rec := history[0]
	assert.Equal(t, model.ExecutionSuccess, rec.Status)
	assert.Equal(t, 0, rec.ResultCount)
	assert.True(t, rec.AlertTriggered)
	assert.Equal(t, "no results", rec.AlertReason)
	assert.True(t, rec.NotificationSent)
	assert.Equal(t, model.NotificationSent, rec.NotificationStatus)
	assert.Equal(t, monday, rec.ExecutionTime)

	stored, err := store.FindScheduleByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastExecutionAt)
	assert.Equal(t, monday, *stored.LastExecutionAt)
	assert.Equal(t, model.OutcomeSuccess, stored.LastExecutionStatus)

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, model.NotificationAlert, sent[0].Type)
	assert.Equal(t, model.PriorityNormal, sent[0].Priority)
	assert.Equal(t, "alice", sent[0].OwnerID)
	assert.Equal(t, rec.ID, sent[0].Data["executionId"])

	// Same minute again: the weekly guard prevents a second firing.
	summary, err = newExecutor(store, mapResolver{"c1": p}, notifier).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Due)
}

func TestRunDue_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	broken, brokenMock := mockPool(t)
	healthy, healthyMock := mockPool(t)

	daily := model.Daily{Hour: 9}
	require.NoError(t, store.SaveSchedule(ctx, definition("bad", "c-broken", daily)))
	require.NoError(t, store.SaveSchedule(ctx, definition("good", "c-healthy", daily)))
	paused := definition("paused", "c-healthy", daily)
	paused.Active = false
	require.NoError(t, store.SaveSchedule(ctx, paused))
	require.NoError(t, store.SaveSchedule(ctx, definition("later", "c-healthy", model.Daily{Hour: 17})))

	brokenMock.ExpectQuery("SELECT id, total FROM orders").
		WillReturnError(errors.New("Table 'sales.orders' doesn't exist"))
	healthyMock.ExpectQuery("SELECT id, total FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).AddRow(1, 9.5))

	notifier := &recordingNotifier{}
	summary, err := newExecutor(store, mapResolver{"c-broken": broken, "c-healthy": healthy}, notifier).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &executor.Summary{Evaluated: 3, Due: 2, Succeeded: 1, Failed: 1, Notified: 2}, summary)
	assert.NoError(t, brokenMock.ExpectationsWereMet())
	assert.NoError(t, healthyMock.ExpectationsWereMet())

	bad, err := store.ListExecutionsBySchedule(ctx, "bad", 0)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.Equal(t, model.ExecutionError, bad[0].Status)
	assert.Contains(t, bad[0].Error, "doesn't exist")
	assert.True(t, bad[0].AlertTriggered)
	assert.Equal(t, "execution failed: "+bad[0].Error, bad[0].AlertReason)

	good, err := store.ListExecutionsBySchedule(ctx, "good", 0)
	require.NoError(t, err)
	require.Len(t, good, 1)
	assert.Equal(t, model.ExecutionSuccess, good[0].Status)
	assert.Equal(t, 1, good[0].ResultCount)
	assert.Equal(t, "executed successfully", good[0].AlertReason)

	stored, err := store.FindScheduleByID(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeError, stored.LastExecutionStatus)

	byType := map[model.NotificationType]*model.Notification{}
	for _, n := range notifier.all() {
		byType[n.Type] = n
	}
	require.Contains(t, byType, model.NotificationError)
	require.Contains(t, byType, model.NotificationSchedule)
	assert.Equal(t, model.PriorityHigh, byType[model.NotificationError].Priority)
	assert.Equal(t, `Scheduled query "report bad" failed`, byType[model.NotificationError].Title)
	assert.Equal(t, model.PriorityLow, byType[model.NotificationSchedule].Priority)

	for _, id := range []string{"paused", "later"} {
		history, err := store.ListExecutionsBySchedule(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, history, id)
	}
}

func TestRunDue_SampleRowsAndRowCount(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	p, mock := mockPool(t)

	def := definition("s1", "c1", model.Hourly{Minute: 0},
		model.AlertCondition{Type: model.ConditionRowsCount, Operator: model.OpGreater, Value: 2})
	def.SQL = "SELECT id, total FROM orders WHERE status = :status"
	def.Parameters = []model.QueryParameter{{Name: "status", Type: model.ParamString, Value: "late"}}
	require.NoError(t, store.SaveSchedule(ctx, def))

	rows := sqlmock.NewRows([]string{"id", "total"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(i, i*10)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, total FROM orders WHERE status = ?")).
		WithArgs("late").WillReturnRows(rows)

	notifier := &recordingNotifier{}
	summary, err := newExecutor(store, mapResolver{"c1": p}, notifier).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())

	history, err := store.ListExecutionsBySchedule(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 5, history[0].ResultCount)
	assert.Len(t, history[0].Results, 5)
	assert.Equal(t, "row count 5 > 2", history[0].AlertReason)

	sent := notifier.all()
	require.Len(t, sent, 1)
	sample, ok := sent[0].Data["results"].([]model.Row)
	require.True(t, ok)
	assert.Len(t, sample, executor.DefaultSampleRows)
	assert.Contains(t, sent[0].Message, "... and 2 more")
	assert.Equal(t, 5, sent[0].Data["resultCount"])
}

func TestRunDue_NoVerdictNoNotification(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	p, mock := mockPool(t)

	require.NoError(t, store.SaveSchedule(ctx, definition("s1", "c1", model.Once{},
		model.AlertCondition{Type: model.ConditionNoResults})))
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).AddRow(1, 2))

	notifier := &recordingNotifier{}
	summary, err := newExecutor(store, mapResolver{"c1": p}, notifier).RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Notified)
	assert.Empty(t, notifier.all())

	history, err := store.ListExecutionsBySchedule(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].AlertTriggered)
	assert.Equal(t, model.NotificationPending, history[0].NotificationStatus)
}

func TestRunNow_NotificationOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		enabled  bool
		notifier *recordingNotifier
		status   model.NotificationStatus
		sent     int
	}{
		{"delivered", true, &recordingNotifier{}, model.NotificationSent, 1},
		{"all channels failed", true, &recordingNotifier{fails: true}, model.NotificationFailed, 1},
		{"notifier error", true, &recordingNotifier{err: errors.New("smtp down")}, model.NotificationFailed, 1},
		{"disabled", false, &recordingNotifier{}, model.NotificationPending, 0},
		{"opted out on every channel", true, &recordingNotifier{skips: true}, model.NotificationPending, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := inmemory.NewStore()
			p, mock := mockPool(t)
			def := definition("s1", "c1", model.Daily{Hour: 3})
			def.Notifications.Enabled = tc.enabled
			require.NoError(t, store.SaveSchedule(ctx, def))
			mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

			rec, err := newExecutor(store, mapResolver{"c1": p}, tc.notifier).RunNow(ctx, "s1", "alice")
			require.NoError(t, err)
			assert.True(t, rec.AlertTriggered)
			assert.Equal(t, tc.status, rec.NotificationStatus)
			assert.Len(t, tc.notifier.all(), tc.sent)

			stored, err := store.FindExecutionByID(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.status, stored.NotificationStatus)
		})
	}
}

func TestRunNow_Authorization(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	require.NoError(t, store.SaveSchedule(ctx, definition("s1", "c1", model.Once{})))
	exec := newExecutor(store, mapResolver{}, &recordingNotifier{})

	_, err := exec.RunNow(ctx, "s1", "")
	assert.True(t, exception.IsKind(err, exception.KindAuth))

	_, err = exec.RunNow(ctx, "s1", "mallory")
	assert.True(t, exception.IsKind(err, exception.KindAuth))

	_, err = exec.RunNow(ctx, "missing", "alice")
	assert.True(t, exception.IsKind(err, exception.KindNotFound))

	history, err := store.ListExecutionsBySchedule(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunNow_ReturnsExecutionError(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	p, mock := mockPool(t)
	require.NoError(t, store.SaveSchedule(ctx, definition("s1", "c1", model.Daily{Hour: 23})))
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("Unknown column 'total' in 'field list'"))

	rec, err := newExecutor(store, mapResolver{"c1": p}, &recordingNotifier{}).RunNow(ctx, "s1", "alice")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindExecution))
	require.NotNil(t, rec)
	assert.Equal(t, model.ExecutionError, rec.Status)
	require.NotNil(t, rec.CompletionTime)

	stored, err := store.FindExecutionByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionError, stored.Status)
	assert.Contains(t, stored.Error, "Unknown column")
}

type failingVault struct{}

func (failingVault) Decrypt(string) (string, error) { return "", errors.New("cipher: message authentication failed") }

func TestRunNow_CredentialError(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	require.NoError(t, store.SaveConnection(ctx, &model.ConnectionConfig{
		ID: "c1", OwnerID: "alice", Host: "db", Database: "sales", User: "reader", EncryptedPassword: "garbage",
	}))
	require.NoError(t, store.SaveSchedule(ctx, definition("s1", "c1", model.Once{})))

	resolver := connector.NewPoolResolver(store, failingVault{}, pool.NewRegistry(), pool.Options{})
	rec, err := newExecutor(store, resolver, &recordingNotifier{}).RunNow(ctx, "s1", "alice")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindCredential))
	assert.Equal(t, model.ExecutionError, rec.Status)
	assert.Contains(t, rec.Error, "failed to decrypt connection password")
}

func TestRunNow_AlertFieldsStoredWithTerminalState(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	updates := &updateLog{Store: store}
	p, mock := mockPool(t)
	require.NoError(t, store.SaveSchedule(ctx, definition("s1", "c1", model.Daily{Hour: 3},
		model.AlertCondition{Type: model.ConditionNoResults})))
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	exec := executor.New(store, updates, mapResolver{"c1": p}, &recordingNotifier{},
		executor.WithClock(func() time.Time { return monday }))
	rec, err := exec.RunNow(ctx, "s1", "alice")
	require.NoError(t, err)

	require.Len(t, updates.updates, 2)
	terminal := updates.updates[0]
	assert.Equal(t, model.ExecutionSuccess, terminal.Status)
	assert.True(t, terminal.AlertTriggered)
	assert.NotEmpty(t, terminal.AlertReason)
	assert.Equal(t, rec.AlertReason, terminal.AlertReason)
	assert.Equal(t, model.NotificationPending, terminal.NotificationStatus)
	assert.Equal(t, model.NotificationSent, updates.updates[1].NotificationStatus)
}

func TestRunDue_CancelledBeforeDispatch(t *testing.T) {
	store := inmemory.NewStore()
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.SaveSchedule(context.Background(), definition(id, "c1", model.Daily{Hour: 9})))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier := &recordingNotifier{}
	summary, err := newExecutor(store, mapResolver{}, notifier).RunDue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, &executor.Summary{Evaluated: 2, Due: 2, Skipped: 2}, summary)
	assert.Empty(t, notifier.all())

	history, err := store.ListExecutionsBySchedule(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
