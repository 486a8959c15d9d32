// Package migration applies the embedded metadata-store schema with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "migration"

// MigrationsTable records the applied schema version.
const MigrationsTable = "qd_schema_migrations"

//go:embed sql
var migrationsFS embed.FS

// Migrator runs the embedded migrations of one store type against one database handle.
// It owns the handle: Close closes it.
type Migrator struct {
	m         *migrate.Migrate
	storeType string
}

func databaseDriver(db *sql.DB, storeType string) (database.Driver, string, error) {
	switch storeType {
	case "mysql":
		drv, err := mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
		return drv, "mysql", err
	case "postgres":
		drv, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
		return drv, "postgres", err
	case "sqlite":
		drv, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: MigrationsTable})
		return drv, "sqlite3", err
	default:
		return nil, "", exception.NewValidationError(moduleName, "unsupported store type for migration: %q", storeType)
	}
}

// New prepares a Migrator for db. storeType is "mysql", "postgres" or "sqlite".
//
// Parameters:
//
//	db: A dedicated handle to the metadata database. MySQL handles must allow multi statements.
//	storeType: The store type the handle was opened for.
//
// Returns:
//
//	The Migrator, or an error when the store type is unsupported or the version table cannot be prepared.
func New(db *sql.DB, storeType string) (*Migrator, error) {
	drv, dir, err := databaseDriver(db, storeType)
	if err != nil {
		var ae *exception.AppError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, exception.NewStoreError(moduleName, fmt.Sprintf("failed to create %s migration driver", storeType), err)
	}
	src, err := iofs.New(migrationsFS, "sql/"+dir)
	if err != nil {
		return nil, exception.NewStoreError(moduleName, "failed to open embedded migrations", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, storeType, drv)
	if err != nil {
		return nil, exception.NewStoreError(moduleName, "failed to create migrate instance", err)
	}
	m.Log = migrateLogger{}
	return &Migrator{m: m, storeType: storeType}, nil
}

// run executes fn and asks migrate to stop after the current step when ctx is done.
func (mg *Migrator) run(ctx context.Context, command string, fn func() error) error {
	logger.Infof("migration: running '%s' on %s store", command, mg.storeType)
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		mg.m.GracefulStop <- true
		err = <-done
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewStoreError(moduleName, fmt.Sprintf("migration '%s' failed on %s store", command, mg.storeType), err)
	}
	version, dirty, verr := mg.m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		logger.Infof("migration: '%s' completed, no version applied", command)
	case verr != nil:
		logger.Warnf("migration: '%s' completed but version is unknown: %v", command, verr)
	default:
		logger.Infof("migration: '%s' completed at version %d (dirty=%t)", command, version, dirty)
	}
	return nil
}

// Up applies every pending migration.
func (mg *Migrator) Up(ctx context.Context) error {
	return mg.run(ctx, "up", mg.m.Up)
}

// Down reverts every applied migration.
func (mg *Migrator) Down(ctx context.Context) error {
	return mg.run(ctx, "down", mg.m.Down)
}

// Version returns the applied version. ok is false when nothing has been applied.
func (mg *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, exception.NewStoreError(moduleName, "failed to read schema version", err)
	}
	return version, dirty, true, nil
}

// Close releases the source and the database handle.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return exception.NewStoreError(moduleName, "failed to close migration source", srcErr)
	}
	if dbErr != nil {
		return exception.NewStoreError(moduleName, "failed to close migration database", dbErr)
	}
	return nil
}

// migrateLogger routes golang-migrate output into the application logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logger.Debugf("migrate: "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return logger.Level() == logger.LevelDebug
}
