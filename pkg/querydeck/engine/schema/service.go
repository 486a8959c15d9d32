package schema

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// RefreshResult is the outcome of persisting a new snapshot.
type RefreshResult struct {
	Version *model.SnapshotVersion
	// Diff is nil when no prior snapshot existed.
	Diff *model.DiffRecord
}

// TableMatch is one hit of SearchTables.
type TableMatch struct {
	Table string `json:"table"`
	// Columns lists the matching columns; empty when only the table name matched.
	Columns []string `json:"columns,omitempty"`
}

// Service persists snapshots and serves the cached versions and diffs.
type Service struct {
	snapshots   repository.Snapshots
	connections repository.Connections
	resolver    connector.Resolver
	pageSize    int
	timeout     time.Duration
	now         func() time.Time
	tracer      metrics.Tracer
	recorder    metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithPageSize sets the table page size used by Refresh.
func WithPageSize(n int) Option { return func(s *Service) { s.pageSize = n } }

// WithQueryTimeout sets the per-query timeout of the snapshotter.
func WithQueryTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option { return func(s *Service) { s.tracer = t } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Service) { s.recorder = r } }

// NewService creates a snapshot Service.
func NewService(snapshots repository.Snapshots, connections repository.Connections, resolver connector.Resolver, opts ...Option) *Service {
	s := &Service{
		snapshots:   snapshots,
		connections: connections,
		resolver:    resolver,
		pageSize:    DefaultPageSize,
		now:         time.Now,
		tracer:      metrics.NoopTracer{},
		recorder:    metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) authorize(ctx context.Context, principal, connectionID string) (*model.ConnectionConfig, error) {
	if principal == "" {
		return nil, exception.NewAuthError(moduleName, "request is not authenticated")
	}
	cfg, err := s.connections.FindConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if cfg.OwnerID != principal {
		return nil, exception.NewAuthError(moduleName, "connection %s does not belong to %s", connectionID, principal)
	}
	return cfg, nil
}

func (s *Service) snapshotter(ctx context.Context, connectionID string) (*Snapshotter, error) {
	p, _, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return NewSnapshotter(p, s.timeout), nil
}

// CapturePage reads one page of tables live, without persisting anything.
func (s *Service) CapturePage(ctx context.Context, principal, connectionID string, offset, pageSize int) (*Page, error) {
	if _, err := s.authorize(ctx, principal, connectionID); err != nil {
		return nil, err
	}
	snap, err := s.snapshotter(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return snap.CapturePage(ctx, offset, pageSize)
}

// Refresh captures the whole schema and commits it as the new current version.
// When a prior version exists the diff between them is stored in the same commit.
func (s *Service) Refresh(ctx context.Context, principal, connectionID string) (*RefreshResult, error) {
	ctx, end := s.tracer.StartSpan(ctx, "schema.refresh", map[string]interface{}{"connection.id": connectionID})
	defer end()
	start := s.now()

	if _, err := s.authorize(ctx, principal, connectionID); err != nil {
		return nil, err
	}
	snap, err := s.snapshotter(ctx, connectionID)
	if err != nil {
		s.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}
	captured, err := snap.CaptureAll(ctx, s.pageSize)
	if err != nil {
		s.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}

	prior, err := s.snapshots.FindCurrentSnapshot(ctx, principal, connectionID)
	if err != nil && !errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, err
	}

	now := s.now()
	version := &model.SnapshotVersion{
		VersionID:    model.NewID(),
		OwnerID:      principal,
		ConnectionID: connectionID,
		Snapshot:     captured,
		TableCount:   len(captured.Tables),
		CreatedAt:    now,
	}
	result := &RefreshResult{Version: version}
	if prior != nil {
		result.Diff = &model.DiffRecord{
			OwnerID:      principal,
			ConnectionID: connectionID,
			OldVersionID: prior.VersionID,
			NewVersionID: version.VersionID,
			Diff:         Diff(prior.Snapshot, captured),
			CreatedAt:    now,
		}
	}
	if err := s.snapshots.CommitSnapshot(ctx, version, result.Diff); err != nil {
		s.tracer.RecordError(ctx, moduleName, err)
		return nil, err
	}

	s.recorder.RecordDuration(ctx, "schema_refresh", s.now().Sub(start), map[string]string{"connection": connectionID})
	if result.Diff != nil && !result.Diff.Diff.IsEmpty() {
		logger.Infof("schema: connection %s changed (%d tables touched), version %s",
			connectionID, len(ChangedTables(result.Diff.Diff)), version.VersionID)
	} else {
		logger.Debugf("schema: connection %s snapshot %s with %d tables", connectionID, version.VersionID, version.TableCount)
	}
	return result, nil
}

// GetCachedSnapshot returns the current persisted version, or nil when none exists.
// Freshness is the caller's decision.
func (s *Service) GetCachedSnapshot(ctx context.Context, principal, connectionID string) (*model.SnapshotVersion, error) {
	if _, err := s.authorize(ctx, principal, connectionID); err != nil {
		return nil, err
	}
	v, err := s.snapshots.FindCurrentSnapshot(ctx, principal, connectionID)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, nil
	}
	return v, err
}

// ListVersions returns the version history newest first.
func (s *Service) ListVersions(ctx context.Context, principal, connectionID string, limit int) ([]*model.SnapshotVersion, error) {
	if _, err := s.authorize(ctx, principal, connectionID); err != nil {
		return nil, err
	}
	return s.snapshots.ListSnapshotVersions(ctx, principal, connectionID, limit)
}

// GetDiff returns the stored diff between two versions. Pairs that were never
// consecutive are computed from the stored versions.
func (s *Service) GetDiff(ctx context.Context, principal, oldVersionID, newVersionID string) (*model.DiffRecord, error) {
	if principal == "" {
		return nil, exception.NewAuthError(moduleName, "request is not authenticated")
	}
	rec, err := s.snapshots.FindDiff(ctx, oldVersionID, newVersionID)
	if err == nil {
		if rec.OwnerID != principal {
			return nil, exception.NewAuthError(moduleName, "diff does not belong to %s", principal)
		}
		return rec, nil
	}
	if !errors.Is(err, repository.ErrDiffNotFound) {
		return nil, err
	}

	older, err := s.ownedVersion(ctx, principal, oldVersionID)
	if err != nil {
		return nil, err
	}
	newer, err := s.ownedVersion(ctx, principal, newVersionID)
	if err != nil {
		return nil, err
	}
	if older.ConnectionID != newer.ConnectionID {
		return nil, exception.NewValidationError(moduleName, "versions %s and %s belong to different connections", oldVersionID, newVersionID)
	}
	return &model.DiffRecord{
		OwnerID:      principal,
		ConnectionID: newer.ConnectionID,
		OldVersionID: oldVersionID,
		NewVersionID: newVersionID,
		Diff:         Diff(older.Snapshot, newer.Snapshot),
		CreatedAt:    s.now(),
	}, nil
}

func (s *Service) ownedVersion(ctx context.Context, principal, id string) (*model.SnapshotVersion, error) {
	v, err := s.snapshots.FindSnapshotVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.OwnerID != principal {
		return nil, exception.NewAuthError(moduleName, "snapshot version %s does not belong to %s", id, principal)
	}
	return v, nil
}

// SearchTables matches term case-insensitively against table and column names of
// the current snapshot. The scan is linear in the snapshot size.
func (s *Service) SearchTables(ctx context.Context, principal, connectionID, term string) ([]TableMatch, error) {
	v, err := s.GetCachedSnapshot(ctx, principal, connectionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []TableMatch{}, nil
	}
	return Search(v.Snapshot, term), nil
}

// Search is the in-memory scan behind SearchTables. Results are sorted by table name.
func Search(snap model.SchemaSnapshot, term string) []TableMatch {
	needle := strings.ToLower(strings.TrimSpace(term))
	out := []TableMatch{}
	for _, name := range snap.TableNames() {
		t := snap.Tables[name]
		m := TableMatch{Table: name}
		for _, c := range t.Columns {
			if needle != "" && strings.Contains(strings.ToLower(c.Name), needle) {
				m.Columns = append(m.Columns, c.Name)
			}
		}
		if needle == "" || strings.Contains(strings.ToLower(name), needle) || len(m.Columns) > 0 {
			out = append(out, m)
		}
	}
	return out
}
