package schema_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

var (
	tablesRe  = regexp.QuoteMeta("FROM information_schema.TABLES")
	columnsRe = regexp.QuoteMeta("FROM information_schema.COLUMNS")
	pkRe      = regexp.QuoteMeta("CONSTRAINT_NAME = 'PRIMARY'")
	fkRe      = regexp.QuoteMeta("REFERENCED_TABLE_NAME IS NOT NULL")
	indexRe   = regexp.QuoteMeta("FROM information_schema.STATISTICS")
)

func mockPool(t *testing.T) (*pool.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := pool.NewRegistry(pool.WithOpenFunc(func(pool.Credentials, pool.Options) (*sql.DB, error) { return db, nil }))
	p, err := reg.GetPool(context.Background(), pool.Credentials{Host: "h", Port: 3306, Database: "shop", User: "u"}, pool.Options{})
	require.NoError(t, err)
	return p, mock
}

func expectTable(mock sqlmock.Sqlmock, name string, columns ...string) {
	colRows := sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "COLUMN_COMMENT", "EXTRA", "COLUMN_KEY"})
	for i, c := range columns {
		key := ""
		if i == 0 {
			key = "PRI"
		}
		colRows.AddRow(c, "int(11)", "NO", nil, "", "", key)
	}
	mock.ExpectQuery(columnsRe).WithArgs(name).WillReturnRows(colRows)
	mock.ExpectQuery(pkRe).WithArgs(name).WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow(columns[0]))
	mock.ExpectQuery(fkRe).WithArgs(name).WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}))
	mock.ExpectQuery(indexRe).WithArgs(name).WillReturnRows(
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "INDEX_TYPE", "SEQ_IN_INDEX"}).
			AddRow("PRIMARY", columns[0], int64(0), "BTREE", int64(1)))
}

func TestSnapshotter_CapturePage(t *testing.T) {
	p, mock := mockPool(t)

	mock.ExpectQuery(tablesRe).WithArgs(2, 0).WillReturnRows(
		sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).
			AddRow("orders", "BASE TABLE", "customer orders").
			AddRow("v_totals", "VIEW", ""))

	mock.ExpectQuery(columnsRe).WithArgs("orders").WillReturnRows(
		sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "COLUMN_COMMENT", "EXTRA", "COLUMN_KEY"}).
			AddRow("id", "int(11)", "NO", nil, "", "auto_increment", "PRI").
			AddRow("customer_id", "int(11)", "NO", nil, "", "", "MUL").
			AddRow("status", "varchar(16)", "YES", []byte("new"), "state", "", ""))
	mock.ExpectQuery(pkRe).WithArgs("orders").WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery(fkRe).WithArgs("orders").WillReturnRows(
		sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("fk_customer", "customer_id", "customers", "id"))
	// Rows deliberately out of sequence order within idx_multi.
	mock.ExpectQuery(indexRe).WithArgs("orders").WillReturnRows(
		sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "INDEX_TYPE", "SEQ_IN_INDEX"}).
			AddRow("PRIMARY", "id", int64(0), "BTREE", int64(1)).
			AddRow("idx_multi", "status", int64(1), "BTREE", int64(2)).
			AddRow("idx_multi", "customer_id", int64(1), "BTREE", int64(1)))

	page, err := schema.NewSnapshotter(p, time.Second).CapturePage(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, 1, page.NextOffset)
	require.Len(t, page.Snapshot.Tables, 1, "the lookahead row is not captured")

	orders := page.Snapshot.Tables["orders"]
	assert.Equal(t, "customer orders", orders.Comment)
	require.Len(t, orders.Columns, 3)
	assert.True(t, orders.Columns[2].Nullable)
	require.NotNil(t, orders.Columns[2].Default)
	assert.Equal(t, "new", *orders.Columns[2].Default)
	assert.Nil(t, orders.Columns[0].Default)
	assert.Equal(t, []string{"id"}, orders.PrimaryKey)
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "customers", orders.ForeignKeys[0].ReferenceTable)

	require.Len(t, orders.Indexes, 2)
	assert.Equal(t, "PRIMARY", orders.Indexes[0].Name)
	assert.True(t, orders.Indexes[0].Unique)
	assert.Equal(t, "idx_multi", orders.Indexes[1].Name)
	assert.False(t, orders.Indexes[1].Unique)
	assert.Equal(t, []string{"customer_id", "status"}, orders.Indexes[1].Columns)
}

func TestSnapshotter_CaptureAllWalksPages(t *testing.T) {
	p, mock := mockPool(t)
	tableRows := func(names ...string) *sqlmock.Rows {
		r := sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"})
		for _, n := range names {
			r.AddRow(n, "BASE TABLE", "")
		}
		return r
	}

	mock.ExpectQuery(tablesRe).WithArgs(3, 0).WillReturnRows(tableRows("a", "b", "c"))
	expectTable(mock, "a", "id")
	expectTable(mock, "b", "id")
	mock.ExpectQuery(tablesRe).WithArgs(3, 2).WillReturnRows(tableRows("c"))
	expectTable(mock, "c", "id", "name")

	snap, err := schema.NewSnapshotter(p, 0).CaptureAll(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, snap.TableNames())
	assert.Len(t, snap.Tables["c"].Columns, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotter_QueryFailure(t *testing.T) {
	p, mock := mockPool(t)
	mock.ExpectQuery(tablesRe).WithArgs(101, 0).WillReturnRows(
		sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).AddRow("orders", "BASE TABLE", ""))
	mock.ExpectQuery(columnsRe).WithArgs("orders").WillReturnError(errors.New("table is marked as crashed"))

	_, err := schema.NewSnapshotter(p, 0).CapturePage(context.Background(), 0, 0)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindExecution))

	_, err = schema.NewSnapshotter(p, 0).CapturePage(context.Background(), -1, 10)
	assert.True(t, exception.IsKind(err, exception.KindValidation))
}

type fixedResolver struct {
	p *pool.Pool
}

func (r fixedResolver) Resolve(ctx context.Context, id string) (*pool.Pool, *model.ConnectionConfig, error) {
	return r.p, &model.ConnectionConfig{ID: id}, nil
}

func TestService_RefreshVersionsAndDiffs(t *testing.T) {
	ctx := context.Background()
	p, mock := mockPool(t)
	store := inmemory.NewStore()
	require.NoError(t, store.SaveConnection(ctx, &model.ConnectionConfig{ID: "c1", OwnerID: "u1"}))

	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := schema.NewService(store, store, fixedResolver{p}, schema.WithPageSize(10),
		schema.WithClock(func() time.Time { return clock }))

	cached, err := svc.GetCachedSnapshot(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, cached)

	mock.ExpectQuery(tablesRe).WithArgs(11, 0).WillReturnRows(
		sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).AddRow("orders", "BASE TABLE", ""))
	expectTable(mock, "orders", "id")

	first, err := svc.Refresh(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, first.Diff, "no prior snapshot")
	assert.Equal(t, 1, first.Version.TableCount)

	mock.ExpectQuery(tablesRe).WithArgs(11, 0).WillReturnRows(
		sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE", "TABLE_COMMENT"}).
			AddRow("customers", "BASE TABLE", "").
			AddRow("orders", "BASE TABLE", ""))
	expectTable(mock, "customers", "id")
	expectTable(mock, "orders", "id", "customer_id")

	clock = clock.Add(time.Hour)
	second, err := svc.Refresh(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, second.Diff)
	assert.Equal(t, first.Version.VersionID, second.Diff.OldVersionID)
	assert.Equal(t, []string{"customers"}, second.Diff.Diff.AddedTables)
	assert.Len(t, second.Diff.Diff.ModifiedTables["orders"].AddedColumns, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	cached, err = svc.GetCachedSnapshot(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, second.Version.VersionID, cached.VersionID)

	versions, err := svc.ListVersions(ctx, "u1", "c1", 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, second.Version.VersionID, versions[0].VersionID)

	stored, err := svc.GetDiff(ctx, "u1", first.Version.VersionID, second.Version.VersionID)
	require.NoError(t, err)
	assert.Equal(t, second.Diff.Diff, stored.Diff)

	reverse, err := svc.GetDiff(ctx, "u1", second.Version.VersionID, first.Version.VersionID)
	require.NoError(t, err, "non-consecutive pairs are computed")
	assert.Equal(t, []string{"customers"}, reverse.Diff.RemovedTables)

	hits, err := svc.SearchTables(ctx, "u1", "c1", "customer")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	_, err = svc.GetDiff(ctx, "intruder", first.Version.VersionID, second.Version.VersionID)
	assert.True(t, exception.IsKind(err, exception.KindAuth))
}

func TestService_Ownership(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	require.NoError(t, store.SaveConnection(ctx, &model.ConnectionConfig{ID: "c1", OwnerID: "u1"}))
	svc := schema.NewService(store, store, fixedResolver{})

	_, err := svc.Refresh(ctx, "u2", "c1")
	assert.True(t, exception.IsKind(err, exception.KindAuth))
	_, err = svc.GetCachedSnapshot(ctx, "", "c1")
	assert.True(t, exception.IsKind(err, exception.KindAuth))
	_, err = svc.ListVersions(ctx, "u1", "missing", 0)
	assert.True(t, exception.IsKind(err, exception.KindNotFound))
}
