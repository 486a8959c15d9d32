// Package gormstore implements repository.Store on gorm for MySQL/MariaDB,
// PostgreSQL and SQLite metadata databases. The schema is owned by the
// migration package; this package never auto-migrates.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "gormstore"

// Store is the gorm-backed repository.Store.
type Store struct {
	db        *gorm.DB
	sqlDB     *sql.DB
	storeType string
}

// Open connects to the metadata database described by cfg.
//
// Parameters:
//
//	cfg: The store section of the configuration. Type selects the dialector.
//
// Returns:
//
//	The connected Store, or an error when the dialector is unknown or the database is unreachable.
func Open(cfg config.StoreConfig) (*Store, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, exception.NewValidationError(moduleName, "%v", err)
	}
	dialector, err := factory(cfg.DSN)
	if err != nil {
		return nil, exception.NewValidationError(moduleName, "invalid %s dsn: %v", cfg.Type, err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, exception.NewConnectivityError(moduleName, fmt.Sprintf("failed to open %s store", cfg.Type), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewStoreError(moduleName, "failed to get underlying sql.DB", err)
	}
	if cfg.Type == "sqlite" {
		// SQLite serializes writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	logger.Infof("gormstore: opened %s metadata store", cfg.Type)
	return &Store{db: db, sqlDB: sqlDB, storeType: cfg.Type}, nil
}

// DB returns the underlying *sql.DB, used by the migration runner.
func (s *Store) DB() *sql.DB { return s.sqlDB }

// Type returns the store type the Store was opened with.
func (s *Store) Type() string { return s.storeType }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	logger.Infof("gormstore: closing %s metadata store", s.storeType)
	return s.sqlDB.Close()
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// translate maps gorm.ErrRecordNotFound to notFound and wraps every other error as a StoreError.
func translate(err error, notFound error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	var ae *exception.AppError
	if errors.As(err, &ae) {
		return err
	}
	return exception.NewStoreError(moduleName, fmt.Sprintf(format, a...), err)
}

// exists reports whether a row of model matches the primary key condition.
func (s *Store) exists(ctx context.Context, model interface{}, query string, args ...interface{}) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ repository.Store = (*Store)(nil)
