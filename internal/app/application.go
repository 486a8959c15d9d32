// Package app assembles querydeck's components into an Fx application.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/migration"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/notification"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/gormstore"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/security/vault"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// StopTimeout bounds the shutdown of a one-shot command.
const StopTimeout = 30 * time.Second

// StoreModule selects the repository module for the configured store type.
func StoreModule(cfg *config.Config) fx.Option {
	switch cfg.QueryDeck.Store.Type {
	case "", "memory":
		return inmemory.Module
	default:
		return gormstore.Module
	}
}

// Options returns every module of the application for cfg.
// Migrations run before configured connections are stored.
func Options(cfg *config.Config, extra ...fx.Option) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		logger.Module,
		config.Module,
		StoreModule(cfg),
		migration.Module,
		metrics.Module,
		vault.Module,
		pool.Module,
		connector.Module,
		notification.Module,
		executor.Module,
		schema.Module,
		retention.Module,
		fx.Options(extra...),
	)
}

// Load reads the configuration used to build the application.
func Load(envFilePath string, embedded config.EmbeddedConfig) (*config.Config, error) {
	return config.LoadConfig(envFilePath, embedded)
}

// Run starts the application with targets populated, calls fn and stops the application.
// targets are pointers filled by fx.Populate, e.g. **executor.Executor.
func Run(ctx context.Context, cfg *config.Config, fn func(context.Context) error, targets ...interface{}) error {
	app := fx.New(Options(cfg, fx.Populate(targets...)))
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Application stop failed: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
