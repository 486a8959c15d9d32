package migration

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/gormstore"
)

// Open connects a dedicated handle to the configured store and prepares a Migrator on it.
func Open(cfg config.StoreConfig) (*Migrator, error) {
	st, err := gormstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	mg, err := New(st.DB(), st.Type())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return mg, nil
}

// AutoMigrateParams defines the dependencies for RegisterAutoMigrate.
type AutoMigrateParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// RegisterAutoMigrate applies pending migrations on start when the store is
// database-backed and auto_migrate is set. It must be invoked before any hook
// that writes to the store.
func RegisterAutoMigrate(p AutoMigrateParams) {
	cfg := p.Config.QueryDeck.Store
	if !cfg.AutoMigrate || cfg.Type == "" || cfg.Type == "memory" {
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			mg, err := Open(cfg)
			if err != nil {
				return err
			}
			defer mg.Close()
			return mg.Up(ctx)
		},
	})
}

// Module applies migrations on start when configured.
var Module = fx.Options(
	fx.Invoke(RegisterAutoMigrate),
)
