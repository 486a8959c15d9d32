package connector_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/security/vault"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

func newConsole(t *testing.T) (*connector.Console, sqlmock.Sqlmock) {
	t.Helper()
	ctx := context.Background()
	v, err := vault.New("a-long-enough-test-secret", "test-salt")
	require.NoError(t, err)
	ciphertext, err := v.Encrypt("s3cret")
	require.NoError(t, err)

	store := inmemory.NewStore()
	require.NoError(t, store.SaveConnection(ctx, &model.ConnectionConfig{
		ID: "c1", OwnerID: "alice", Host: "db.internal", Database: "sales", User: "writer", EncryptedPassword: ciphertext,
	}))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	reg := pool.NewRegistry(pool.WithOpenFunc(func(pool.Credentials, pool.Options) (*sql.DB, error) { return db, nil }))
	return connector.NewConsole(store, connector.NewPoolResolver(store, v, reg, pool.Options{})), mock
}

func TestConsole_RowEdits(t *testing.T) {
	ctx := context.Background()
	console, mock := newConsole(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET `name` = ? WHERE `id` = ? LIMIT 1")).
		WithArgs("Ada", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := console.UpdateRow(ctx, "alice", "c1", "users", map[string]interface{}{"id": 7}, map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`name`) VALUES (?)")).
		WithArgs("Grace").
		WillReturnResult(sqlmock.NewResult(8, 1))
	id, err := console.InsertRow(ctx, "alice", "c1", "users", map[string]interface{}{"name": "Grace"})
	require.NoError(t, err)
	assert.EqualValues(t, 8, id)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE `id` = ? LIMIT 1")).
		WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err = console.DeleteRow(ctx, "alice", "c1", "users", map[string]interface{}{"id": 8})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsole_Authorization(t *testing.T) {
	ctx := context.Background()
	console, mock := newConsole(t)

	_, err := console.DeleteRow(ctx, "mallory", "c1", "users", map[string]interface{}{"id": 1})
	assert.True(t, exception.IsKind(err, exception.KindAuth))

	_, err = console.UpdateRow(ctx, "", "c1", "users", map[string]interface{}{"id": 1}, map[string]interface{}{"a": 1})
	assert.True(t, exception.IsKind(err, exception.KindAuth))

	_, err = console.TestConnection(ctx, "alice", "missing")
	assert.True(t, exception.IsKind(err, exception.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsole_TestConnection(t *testing.T) {
	console, mock := newConsole(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("10.11.6-MariaDB"))

	info, err := console.TestConnection(context.Background(), "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, "10.11.6-MariaDB", info.Version)
}
