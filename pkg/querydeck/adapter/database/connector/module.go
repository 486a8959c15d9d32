package connector

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/security/vault"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// ResolverParams defines the dependencies for NewPoolResolverProvider.
type ResolverParams struct {
	fx.In
	Config   *config.Config
	Store    repository.Store
	Vault    *vault.Vault
	Registry *pool.Registry
}

// NewPoolResolverProvider builds a PoolResolver using the configured pool options.
func NewPoolResolverProvider(p ResolverParams) *PoolResolver {
	return NewPoolResolver(p.Store, p.Vault, p.Registry, pool.OptionsFromConfig(p.Config.QueryDeck.Pool))
}

// SeedParams defines the dependencies for RegisterSeedHook.
type SeedParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Store     repository.Store
}

// RegisterSeedHook stores the configured connections when the application starts.
func RegisterSeedHook(p SeedParams) error {
	entries, err := p.Config.DecodeConnections()
	if err != nil {
		return err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := SeedConnections(ctx, p.Store, entries, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Infof("connector: %d configured connections registered", n)
			}
			return nil
		},
	})
	return nil
}

// NewConsoleProvider builds the Console over the configured store.
func NewConsoleProvider(store repository.Store, resolver *PoolResolver) *Console {
	return NewConsole(store, resolver)
}

// Module provides the Resolver and the Console and seeds configured connections.
var Module = fx.Options(
	fx.Provide(
		NewPoolResolverProvider,
		func(r *PoolResolver) Resolver { return r },
		NewConsoleProvider,
	),
	fx.Invoke(RegisterSeedHook),
)
