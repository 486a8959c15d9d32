package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/internal/server"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) RunDue(ctx context.Context) (*executor.Summary, error) {
	args := m.Called()
	s, _ := args.Get(0).(*executor.Summary)
	return s, args.Error(1)
}

func (m *mockExecutor) RunNow(ctx context.Context, id, principal string) (*model.ExecutionRecord, error) {
	args := m.Called(id, principal)
	r, _ := args.Get(0).(*model.ExecutionRecord)
	return r, args.Error(1)
}

type mockSweeper struct{ mock.Mock }

func (m *mockSweeper) Sweep(ctx context.Context) (*retention.Report, error) {
	args := m.Called()
	r, _ := args.Get(0).(*retention.Report)
	return r, args.Error(1)
}

type mockSchedules struct{ mock.Mock }

func (m *mockSchedules) Create(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error) {
	args := m.Called(principal, def)
	r, _ := args.Get(0).(*model.ScheduleDefinition)
	return r, args.Error(1)
}

func (m *mockSchedules) Update(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error) {
	args := m.Called(principal, def)
	r, _ := args.Get(0).(*model.ScheduleDefinition)
	return r, args.Error(1)
}

func (m *mockSchedules) Get(ctx context.Context, principal, id string) (*model.ScheduleDefinition, error) {
	args := m.Called(principal, id)
	r, _ := args.Get(0).(*model.ScheduleDefinition)
	return r, args.Error(1)
}

func (m *mockSchedules) List(ctx context.Context, principal string) ([]*model.ScheduleDefinition, error) {
	args := m.Called(principal)
	r, _ := args.Get(0).([]*model.ScheduleDefinition)
	return r, args.Error(1)
}

func (m *mockSchedules) SetActive(ctx context.Context, principal, id string, active bool) (*model.ScheduleDefinition, error) {
	args := m.Called(principal, id, active)
	r, _ := args.Get(0).(*model.ScheduleDefinition)
	return r, args.Error(1)
}

func (m *mockSchedules) Delete(ctx context.Context, principal, id string) error {
	return m.Called(principal, id).Error(0)
}

func (m *mockSchedules) History(ctx context.Context, principal, id string, limit int) ([]*model.ExecutionRecord, error) {
	args := m.Called(principal, id, limit)
	r, _ := args.Get(0).([]*model.ExecutionRecord)
	return r, args.Error(1)
}

type mockSnapshots struct{ mock.Mock }

func (m *mockSnapshots) Refresh(ctx context.Context, principal, connectionID string) (*schema.RefreshResult, error) {
	args := m.Called(principal, connectionID)
	r, _ := args.Get(0).(*schema.RefreshResult)
	return r, args.Error(1)
}

func (m *mockSnapshots) GetCachedSnapshot(ctx context.Context, principal, connectionID string) (*model.SnapshotVersion, error) {
	args := m.Called(principal, connectionID)
	r, _ := args.Get(0).(*model.SnapshotVersion)
	return r, args.Error(1)
}

func (m *mockSnapshots) ListVersions(ctx context.Context, principal, connectionID string, limit int) ([]*model.SnapshotVersion, error) {
	args := m.Called(principal, connectionID, limit)
	r, _ := args.Get(0).([]*model.SnapshotVersion)
	return r, args.Error(1)
}

func (m *mockSnapshots) GetDiff(ctx context.Context, principal, oldID, newID string) (*model.DiffRecord, error) {
	args := m.Called(principal, oldID, newID)
	r, _ := args.Get(0).(*model.DiffRecord)
	return r, args.Error(1)
}

func (m *mockSnapshots) SearchTables(ctx context.Context, principal, connectionID, term string) ([]schema.TableMatch, error) {
	args := m.Called(principal, connectionID, term)
	r, _ := args.Get(0).([]schema.TableMatch)
	return r, args.Error(1)
}

func (m *mockSnapshots) CapturePage(ctx context.Context, principal, connectionID string, offset, pageSize int) (*schema.Page, error) {
	args := m.Called(principal, connectionID, offset, pageSize)
	r, _ := args.Get(0).(*schema.Page)
	return r, args.Error(1)
}

type mockConsole struct{ mock.Mock }

func (m *mockConsole) TestConnection(ctx context.Context, principal, connectionID string) (*pool.ServerInfo, error) {
	args := m.Called(principal, connectionID)
	r, _ := args.Get(0).(*pool.ServerInfo)
	return r, args.Error(1)
}

func (m *mockConsole) UpdateRow(ctx context.Context, principal, connectionID, table string, pk, values map[string]interface{}) (int64, error) {
	args := m.Called(principal, connectionID, table, pk, values)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockConsole) InsertRow(ctx context.Context, principal, connectionID, table string, values map[string]interface{}) (int64, error) {
	args := m.Called(principal, connectionID, table, values)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockConsole) DeleteRow(ctx context.Context, principal, connectionID, table string, pk map[string]interface{}) (int64, error) {
	args := m.Called(principal, connectionID, table, pk)
	return args.Get(0).(int64), args.Error(1)
}

type fixture struct {
	srv       *server.Server
	executor  *mockExecutor
	sweeper   *mockSweeper
	schedules *mockSchedules
	snapshots *mockSnapshots
	console   *mockConsole
}

func newFixture(opts ...server.Option) *fixture {
	f := &fixture{executor: &mockExecutor{}, sweeper: &mockSweeper{}, schedules: &mockSchedules{}, snapshots: &mockSnapshots{}, console: &mockConsole{}}
	f.srv = server.New(f.executor, f.sweeper, f.schedules, f.snapshots, f.console, opts...)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	return f.send(t, method, target, "", headers)
}

// send issues a request with a JSON body.
func (f *fixture) send(t *testing.T, method, target, payload string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func TestServer_TokenRequired(t *testing.T) {
	f := newFixture(server.WithToken("s3cret"))
	f.executor.On("RunDue").Return(&executor.Summary{Evaluated: 3, Due: 1, Succeeded: 1}, nil)

	code, body := f.do(t, http.MethodPost, "/v1/executor/run", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing or invalid bearer token", body["error"])

	code, _ = f.do(t, http.MethodPost, "/v1/executor/run", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = f.do(t, http.MethodPost, "/v1/executor/run", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["evaluated"])
	assert.Equal(t, float64(1), body["succeeded"])

	code, _ = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code, "health is public")
}

func TestServer_Sweep(t *testing.T) {
	f := newFixture()
	f.sweeper.On("Sweep").Return(&retention.Report{Schedules: 2, Deleted: 9}, nil)
	code, body := f.do(t, http.MethodPost, "/v1/retention/sweep", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(9), body["deleted"])
}

func TestServer_PartialSweep(t *testing.T) {
	f := newFixture()
	var errs *multierror.Error
	errs = multierror.Append(errs, exception.NewRetentionSweepError("retention", "failed to sweep history of schedule s2", nil))
	f.sweeper.On("Sweep").Return(&retention.Report{Schedules: 2, Deleted: 4, Failed: []string{"s2"}}, errs.ErrorOrNil())

	code, body := f.do(t, http.MethodPost, "/v1/retention/sweep", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["deleted"])
	assert.Equal(t, []interface{}{"s2"}, body["failed"])
	require.Len(t, body["errors"], 1)
	assert.Contains(t, body["errors"].([]interface{})[0], "schedule s2")
}

func TestServer_CancelledRunReturnsSummary(t *testing.T) {
	f := newFixture()
	f.executor.On("RunDue").Return(&executor.Summary{Evaluated: 4, Due: 3, Succeeded: 1, Skipped: 2}, context.Canceled)

	code, body := f.do(t, http.MethodPost, "/v1/executor/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, float64(2), body["summary"].(map[string]interface{})["skipped"])
}

func TestServer_ScheduleLifecycle(t *testing.T) {
	f := newFixture()
	h := map[string]string{server.PrincipalHeader: "alice"}
	stored := &model.ScheduleDefinition{
		ID: "s1", Name: "daily sales", OwnerID: "alice", ConnectionID: "c1", SQL: "SELECT 1", Active: true,
		Timing: model.Timing{Timezone: "UTC", Recurrence: model.Daily{Hour: 9}},
	}

	f.schedules.On("Create", "alice", mock.MatchedBy(func(d *model.ScheduleDefinition) bool {
		return d.ID == "" && d.Name == "daily sales" && d.Active && d.Timing.Recurrence == model.Daily{Hour: 9}
	})).Return(stored, nil)
	code, body := f.send(t, http.MethodPost, "/v1/schedules",
		`{"name":"daily sales","connectionId":"c1","sql":"SELECT 1","timezone":"UTC","recurrence":{"frequency":"DAILY","hour":9}}`, h)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "s1", body["id"])
	assert.Equal(t, "DAILY", body["recurrence"].(map[string]interface{})["frequency"])
	assert.Equal(t, float64(model.DefaultRetentionDays), body["maxHistoryRetention"])

	code, body = f.send(t, http.MethodPost, "/v1/schedules", `{"name":"x","recurrence":{"frequency":"YEARLY"}}`, h)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION", body["kind"])

	f.schedules.On("Update", "alice", mock.MatchedBy(func(d *model.ScheduleDefinition) bool {
		return d.ID == "s1" && !d.Active
	})).Return(stored, nil)
	code, _ = f.send(t, http.MethodPut, "/v1/schedules/s1",
		`{"name":"daily sales","connectionId":"c1","sql":"SELECT 1","recurrence":{"frequency":"DAILY","hour":9},"active":false}`, h)
	assert.Equal(t, http.StatusOK, code)

	f.schedules.On("Get", "alice", "s1").Return(stored, nil)
	code, body = f.do(t, http.MethodGet, "/v1/schedules/s1", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["ownerId"])

	f.schedules.On("List", "alice").Return([]*model.ScheduleDefinition{stored}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/schedules", nil)
	req.Header.Set(server.PrincipalHeader, "alice")
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)

	f.schedules.On("SetActive", "alice", "s1", false).Return(stored, nil)
	code, _ = f.send(t, http.MethodPut, "/v1/schedules/s1/active", `{"active":false}`, h)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.send(t, http.MethodPut, "/v1/schedules/s1/active", `{}`, h)
	assert.Equal(t, http.StatusBadRequest, code)

	f.schedules.On("Delete", "alice", "s1").Return(nil)
	f.schedules.On("Delete", "bob", "s1").Return(exception.NewAuthError("executor", "schedule s1 does not belong to bob"))
	code, _ = f.do(t, http.MethodDelete, "/v1/schedules/s1", h)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodDelete, "/v1/schedules/s1", map[string]string{server.PrincipalHeader: "bob"})
	assert.Equal(t, http.StatusForbidden, code)
	f.schedules.AssertExpectations(t)
}

func TestServer_Console(t *testing.T) {
	f := newFixture()
	h := map[string]string{server.PrincipalHeader: "alice"}

	f.console.On("TestConnection", "alice", "c1").Return(&pool.ServerInfo{Version: "8.0.36", Latency: 12 * time.Millisecond}, nil)
	code, body := f.do(t, http.MethodPost, "/v1/connections/c1/test", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "8.0.36", body["version"])
	assert.Equal(t, float64(12), body["latencyMs"])

	f.console.On("InsertRow", "alice", "c1", "users", map[string]interface{}{"name": "Grace"}).Return(int64(8), nil)
	code, body = f.send(t, http.MethodPost, "/v1/connections/c1/tables/users/rows", `{"values":{"name":"Grace"}}`, h)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, float64(8), body["lastInsertId"])

	f.console.On("UpdateRow", "alice", "c1", "users", map[string]interface{}{"id": float64(8)}, map[string]interface{}{"name": "Ada"}).Return(int64(1), nil)
	code, body = f.send(t, http.MethodPatch, "/v1/connections/c1/tables/users/rows", `{"key":{"id":8},"values":{"name":"Ada"}}`, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["rowsAffected"])

	f.console.On("DeleteRow", "alice", "c1", "users", map[string]interface{}{"id": float64(8)}).
		Return(int64(0), exception.NewValidationError("pool", "row not found"))
	code, body = f.send(t, http.MethodDelete, "/v1/connections/c1/tables/users/rows", `{"key":{"id":8}}`, h)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION", body["kind"])
	f.console.AssertExpectations(t)
}

func TestServer_RunNow(t *testing.T) {
	f := newFixture()
	ok := &model.ExecutionRecord{ID: "e1", ScheduleID: "s1", Status: model.ExecutionSuccess, ResultCount: 1, Results: []model.Row{{"n": 1}}}
	failed := &model.ExecutionRecord{ID: "e2", ScheduleID: "s2", Status: model.ExecutionError, Error: "syntax"}
	f.executor.On("RunNow", "s1", "alice").Return(ok, nil)
	f.executor.On("RunNow", "s2", "alice").Return(failed, exception.NewExecutionError("executor", "query failed", nil))
	f.executor.On("RunNow", "s1", "bob").Return(nil, exception.NewAuthError("executor", "schedule s1 does not belong to bob"))

	code, body := f.do(t, http.MethodPost, "/v1/schedules/s1/run", map[string]string{server.PrincipalHeader: "alice"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Len(t, body["results"], 1)

	code, body = f.do(t, http.MethodPost, "/v1/schedules/s2/run", map[string]string{server.PrincipalHeader: "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "EXECUTION", body["kind"])
	assert.Equal(t, "e2", body["execution"].(map[string]interface{})["id"])

	code, body = f.do(t, http.MethodPost, "/v1/schedules/s1/run", map[string]string{server.PrincipalHeader: "bob"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AUTH", body["kind"])
}

func TestServer_HistoryLimit(t *testing.T) {
	f := newFixture()
	f.schedules.On("History", "alice", "s1", 5).Return([]*model.ExecutionRecord{{ID: "e1"}}, nil)
	f.schedules.On("History", "alice", "missing", 50).Return(nil, exception.NewNotFoundError("repository", "schedule not found"))

	req := httptest.NewRequest(http.MethodGet, "/v1/schedules/s1/executions?limit=5", nil)
	req.Header.Set(server.PrincipalHeader, "alice")
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0]["id"])

	code, _ := f.do(t, http.MethodGet, "/v1/schedules/s1/executions?limit=zero", map[string]string{server.PrincipalHeader: "alice"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/v1/schedules/missing/executions", map[string]string{server.PrincipalHeader: "alice"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Snapshots(t *testing.T) {
	f := newFixture()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	v2 := &model.SnapshotVersion{VersionID: "v2", ConnectionID: "c1", TableCount: 1, CreatedAt: at,
		Snapshot: model.SchemaSnapshot{Tables: map[string]model.TableSchema{"orders": {Name: "orders"}}}}
	diff := &model.DiffRecord{OldVersionID: "v1", NewVersionID: "v2", Diff: model.SchemaDiff{AddedTables: []string{"orders"}}}
	h := map[string]string{server.PrincipalHeader: "alice"}

	f.snapshots.On("Refresh", "alice", "c1").Return(&schema.RefreshResult{Version: v2, Diff: diff}, nil)
	code, body := f.do(t, http.MethodPost, "/v1/connections/c1/snapshot", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v2", body["version"].(map[string]interface{})["versionId"])
	assert.Equal(t, []interface{}{"orders"}, body["diff"].(map[string]interface{})["diff"].(map[string]interface{})["addedTables"])

	f.snapshots.On("GetCachedSnapshot", "alice", "c1").Return(v2, nil)
	code, body = f.do(t, http.MethodGet, "/v1/connections/c1/snapshot", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["snapshot"].(map[string]interface{})["tables"], "orders")

	f.snapshots.On("GetDiff", "alice", "v1", "v2").Return(diff, nil)
	code, body = f.do(t, http.MethodGet, "/v1/schema/diff?old=v1&new=v2", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v1", body["oldVersionId"])

	code, _ = f.do(t, http.MethodGet, "/v1/schema/diff?old=v1", h)
	assert.Equal(t, http.StatusBadRequest, code)

	f.snapshots.On("SearchTables", "alice", "c1", "ord").Return([]schema.TableMatch{{Table: "orders"}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/connections/c1/tables?q=ord", nil)
	req.Header.Set(server.PrincipalHeader, "alice")
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `[{"table":"orders"}]`, string(raw))

	page := &schema.Page{Snapshot: v2.Snapshot, Offset: 10, NextOffset: 11, HasMore: true}
	f.snapshots.On("CapturePage", "alice", "c1", 10, 0).Return(page, nil)
	code, body = f.do(t, http.MethodGet, "/v1/connections/c1/snapshot/page?offset=10", h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["hasMore"])
	assert.Equal(t, float64(11), body["nextOffset"])
	assert.Contains(t, body["tables"], "orders")

	code, _ = f.do(t, http.MethodGet, "/v1/connections/c1/snapshot/page?size=big", h)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "querydeck_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	f := newFixture(server.WithGatherer(reg))
	resp, err := f.srv.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), "querydeck_test_total 1"))
}
