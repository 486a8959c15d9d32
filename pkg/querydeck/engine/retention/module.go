package retention

import (
	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
)

// SweeperParams defines the dependencies for NewSweeperProvider.
type SweeperParams struct {
	fx.In
	Config   *config.Config
	Store    repository.Store
	Recorder metrics.Recorder
	Tracer   metrics.Tracer
}

// NewSweeperProvider builds a Sweeper from configuration.
func NewSweeperProvider(p SweeperParams) *Sweeper {
	cfg := p.Config.QueryDeck.Retention
	return NewSweeper(p.Store, p.Store,
		WithBatchSize(cfg.BatchSize),
		WithDefaultDays(cfg.DefaultDays),
		WithRecorder(p.Recorder),
		WithTracer(p.Tracer),
	)
}

// Module provides the retention Sweeper.
var Module = fx.Options(
	fx.Provide(NewSweeperProvider),
)
