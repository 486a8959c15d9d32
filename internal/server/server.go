// Package server exposes querydeck's operations over HTTP for an external
// periodic trigger and for interactive callers.
//
// Trigger routes (executor, retention) need the configured bearer token.
// Owner-scoped routes additionally name the acting principal in the
// X-QueryDeck-Principal header; ownership is checked by the services.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// PrincipalHeader carries the id of the acting owner.
const PrincipalHeader = "X-QueryDeck-Principal"

const defaultListLimit = 50

// Executor fires schedules.
type Executor interface {
	RunDue(ctx context.Context) (*executor.Summary, error)
	RunNow(ctx context.Context, scheduleID, principal string) (*model.ExecutionRecord, error)
}

// Sweeper deletes expired execution history.
type Sweeper interface {
	Sweep(ctx context.Context) (*retention.Report, error)
}

// Schedules manages schedule definitions and lists their execution history.
type Schedules interface {
	Create(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error)
	Update(ctx context.Context, principal string, def *model.ScheduleDefinition) (*model.ScheduleDefinition, error)
	Get(ctx context.Context, principal, id string) (*model.ScheduleDefinition, error)
	List(ctx context.Context, principal string) ([]*model.ScheduleDefinition, error)
	SetActive(ctx context.Context, principal, id string, active bool) (*model.ScheduleDefinition, error)
	Delete(ctx context.Context, principal, id string) error
	History(ctx context.Context, principal, id string, limit int) ([]*model.ExecutionRecord, error)
}

// Snapshots serves schema snapshots.
type Snapshots interface {
	Refresh(ctx context.Context, principal, connectionID string) (*schema.RefreshResult, error)
	GetCachedSnapshot(ctx context.Context, principal, connectionID string) (*model.SnapshotVersion, error)
	ListVersions(ctx context.Context, principal, connectionID string, limit int) ([]*model.SnapshotVersion, error)
	GetDiff(ctx context.Context, principal, oldVersionID, newVersionID string) (*model.DiffRecord, error)
	SearchTables(ctx context.Context, principal, connectionID, term string) ([]schema.TableMatch, error)
	CapturePage(ctx context.Context, principal, connectionID string, offset, pageSize int) (*schema.Page, error)
}

// Console runs connection tests and row edits against a target database.
type Console interface {
	TestConnection(ctx context.Context, principal, connectionID string) (*pool.ServerInfo, error)
	UpdateRow(ctx context.Context, principal, connectionID, table string, pk, values map[string]interface{}) (int64, error)
	InsertRow(ctx context.Context, principal, connectionID, table string, values map[string]interface{}) (int64, error)
	DeleteRow(ctx context.Context, principal, connectionID, table string, pk map[string]interface{}) (int64, error)
}

// Server is the HTTP surface.
type Server struct {
	app       *fiber.App
	executor  Executor
	sweeper   Sweeper
	schedules Schedules
	snapshots Snapshots
	console   Console
	token     string
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires callers to present token as a bearer token.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

// New creates a Server and registers its routes.
func New(exec Executor, sweeper Sweeper, schedules Schedules, snapshots Snapshots, console Console, opts ...Option) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "querydeck",
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
		executor:  exec,
		sweeper:   sweeper,
		schedules: schedules,
		snapshots: snapshots,
		console:   console,
	}
	s.app.Use(recover.New())
	s.app.Use(requestLogger)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	v1 := s.app.Group("/v1", s.authenticate)
	v1.Post("/executor/run", s.runDue)
	v1.Post("/retention/sweep", s.sweep)
	v1.Get("/schedules", s.listSchedules)
	v1.Post("/schedules", s.createSchedule)
	v1.Get("/schedules/:id", s.getSchedule)
	v1.Put("/schedules/:id", s.updateSchedule)
	v1.Delete("/schedules/:id", s.deleteSchedule)
	v1.Put("/schedules/:id/active", s.setActive)
	v1.Post("/schedules/:id/run", s.runNow)
	v1.Get("/schedules/:id/executions", s.history)
	v1.Post("/connections/:id/test", s.testConnection)
	v1.Post("/connections/:id/snapshot", s.refresh)
	v1.Get("/connections/:id/snapshot", s.cachedSnapshot)
	v1.Get("/connections/:id/snapshot/page", s.snapshotPage)
	v1.Get("/connections/:id/snapshot/versions", s.versions)
	v1.Get("/connections/:id/tables", s.searchTables)
	v1.Post("/connections/:id/tables/:table/rows", s.insertRow)
	v1.Patch("/connections/:id/tables/:table/rows", s.updateRow)
	v1.Delete("/connections/:id/tables/:table/rows", s.deleteRow)
	v1.Get("/schema/diff", s.diff)
}

func (s *Server) authenticate(c *fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}
	got := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid bearer token")
	}
	return c.Next()
}

func principal(c *fiber.Ctx) string { return c.Get(PrincipalHeader) }

func limitOf(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, exception.NewValidationError("server", "limit must be a positive integer")
	}
	return n, nil
}

func intQuery(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, exception.NewValidationError("server", "%s must be an integer", name)
	}
	return n, nil
}

func bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return exception.NewValidationError("server", "malformed request body: %v", err)
	}
	return nil
}

// runDue returns the partial summary with the error when dispatch was cut short.
func (s *Server) runDue(c *fiber.Ctx) error {
	summary, err := s.executor.RunDue(c.UserContext())
	if err != nil {
		if summary == nil {
			return err
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   exception.ExtractErrorMessage(err),
			"summary": summary,
		})
	}
	return c.JSON(summary)
}

// sweep reports a partial sweep with 200 and lists the per-schedule failures.
func (s *Server) sweep(c *fiber.Ctx) error {
	report, err := s.sweeper.Sweep(c.UserContext())
	if report == nil {
		if err == nil {
			err = errors.New("sweep returned no report")
		}
		return err
	}
	view := sweepView{Report: report}
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				view.Errors = append(view.Errors, exception.ExtractErrorMessage(e))
			}
		} else {
			view.Errors = []string{exception.ExtractErrorMessage(err)}
		}
	}
	return c.JSON(view)
}

func (s *Server) listSchedules(c *fiber.Ctx) error {
	defs, err := s.schedules.List(c.UserContext(), principal(c))
	if err != nil {
		return err
	}
	out := make([]scheduleView, 0, len(defs))
	for _, d := range defs {
		out = append(out, viewSchedule(d))
	}
	return c.JSON(out)
}

func (s *Server) createSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	def, err := req.definition("")
	if err != nil {
		return err
	}
	created, err := s.schedules.Create(c.UserContext(), principal(c), def)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(viewSchedule(created))
}

func (s *Server) getSchedule(c *fiber.Ctx) error {
	def, err := s.schedules.Get(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(viewSchedule(def))
}

func (s *Server) updateSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	def, err := req.definition(c.Params("id"))
	if err != nil {
		return err
	}
	updated, err := s.schedules.Update(c.UserContext(), principal(c), def)
	if err != nil {
		return err
	}
	return c.JSON(viewSchedule(updated))
}

func (s *Server) deleteSchedule(c *fiber.Ctx) error {
	if err := s.schedules.Delete(c.UserContext(), principal(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) setActive(c *fiber.Ctx) error {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Active == nil {
		return exception.NewValidationError("server", "active is required")
	}
	def, err := s.schedules.SetActive(c.UserContext(), principal(c), c.Params("id"), *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(viewSchedule(def))
}

// runNow stores the record even when the query fails; the failure is returned with it.
func (s *Server) runNow(c *fiber.Ctx) error {
	rec, err := s.executor.RunNow(c.UserContext(), c.Params("id"), principal(c))
	if rec == nil {
		return err
	}
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{
			"error":     exception.ExtractErrorMessage(err),
			"kind":      exception.KindOf(err),
			"execution": viewExecution(rec, false),
		})
	}
	return c.JSON(viewExecution(rec, true))
}

func (s *Server) history(c *fiber.Ctx) error {
	limit, err := limitOf(c)
	if err != nil {
		return err
	}
	records, err := s.schedules.History(c.UserContext(), principal(c), c.Params("id"), limit)
	if err != nil {
		return err
	}
	out := make([]executionView, 0, len(records))
	for _, r := range records {
		out = append(out, viewExecution(r, false))
	}
	return c.JSON(out)
}

func (s *Server) refresh(c *fiber.Ctx) error {
	res, err := s.snapshots.Refresh(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"version": viewVersion(res.Version, false),
		"diff":    viewDiff(res.Diff),
	})
}

func (s *Server) cachedSnapshot(c *fiber.Ctx) error {
	v, err := s.snapshots.GetCachedSnapshot(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(viewVersion(v, true))
}

func (s *Server) versions(c *fiber.Ctx) error {
	limit, err := limitOf(c)
	if err != nil {
		return err
	}
	versions, err := s.snapshots.ListVersions(c.UserContext(), principal(c), c.Params("id"), limit)
	if err != nil {
		return err
	}
	out := make([]versionView, 0, len(versions))
	for _, v := range versions {
		out = append(out, viewVersion(v, false))
	}
	return c.JSON(out)
}

func (s *Server) snapshotPage(c *fiber.Ctx) error {
	offset, err := intQuery(c, "offset")
	if err != nil {
		return err
	}
	size, err := intQuery(c, "size")
	if err != nil {
		return err
	}
	page, err := s.snapshots.CapturePage(c.UserContext(), principal(c), c.Params("id"), offset, size)
	if err != nil {
		return err
	}
	return c.JSON(viewPage(page))
}

func (s *Server) testConnection(c *fiber.Ctx) error {
	info, err := s.console.TestConnection(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"version": info.Version, "latencyMs": info.Latency.Milliseconds()})
}

func (s *Server) insertRow(c *fiber.Ctx) error {
	var req rowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := s.console.InsertRow(c.UserContext(), principal(c), c.Params("id"), c.Params("table"), req.Values)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"lastInsertId": id})
}

func (s *Server) updateRow(c *fiber.Ctx) error {
	var req rowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.console.UpdateRow(c.UserContext(), principal(c), c.Params("id"), c.Params("table"), req.Key, req.Values)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rowsAffected": n})
}

func (s *Server) deleteRow(c *fiber.Ctx) error {
	var req rowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.console.DeleteRow(c.UserContext(), principal(c), c.Params("id"), c.Params("table"), req.Key)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rowsAffected": n})
}

func (s *Server) searchTables(c *fiber.Ctx) error {
	matches, err := s.snapshots.SearchTables(c.UserContext(), principal(c), c.Params("id"), c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(matches)
}

func (s *Server) diff(c *fiber.Ctx) error {
	oldID, newID := c.Query("old"), c.Query("new")
	if oldID == "" || newID == "" {
		return exception.NewValidationError("server", "old and new version ids are required")
	}
	d, err := s.snapshots.GetDiff(c.UserContext(), principal(c), oldID, newID)
	if err != nil {
		return err
	}
	return c.JSON(viewDiff(d))
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch exception.KindOf(err) {
	case exception.KindValidation:
		return fiber.StatusBadRequest
	case exception.KindAuth:
		return fiber.StatusForbidden
	case exception.KindNotFound:
		return fiber.StatusNotFound
	case exception.KindConnectivity:
		return fiber.StatusBadGateway
	case exception.KindCredential, exception.KindEncryption, exception.KindExecution:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	message := exception.ExtractErrorMessage(err)
	if code == fiber.StatusInternalServerError {
		logger.Errorf("server: %s %s failed: %v", c.Method(), c.Path(), err)
		message = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"kind":  exception.KindOf(err),
	})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if c.Path() == "/healthz" {
		return err
	}
	logger.Debugf("server: %s %s -> %d (%dms)", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start).Milliseconds())
	return err
}
