package pool

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// RegistryParams defines the dependencies for NewRegistryProvider.
type RegistryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Recorder  metrics.Recorder
}

// NewRegistryProvider builds the process-wide Registry and closes every pool on shutdown.
func NewRegistryProvider(p RegistryParams) *Registry {
	r := NewRegistry(
		WithDefaults(OptionsFromConfig(p.Config.QueryDeck.Pool)),
		WithRetryPolicy(RetryPolicyFromConfig(p.Config.QueryDeck.Retry)),
		WithRecorder(p.Recorder),
	)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			n := r.CloseAll()
			logger.Infof("pool: closed %d pools", n)
			return nil
		},
	})
	return r
}

// Module provides the pool Registry.
var Module = fx.Options(
	fx.Provide(NewRegistryProvider),
)
