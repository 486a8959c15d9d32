package executor

import (
	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/ports"
)

// ExecutorParams defines the dependencies for NewExecutorProvider.
type ExecutorParams struct {
	fx.In
	Config   *config.Config
	Store    repository.Store
	Resolver connector.Resolver
	Notifier ports.Notifier
	Recorder metrics.Recorder
	Tracer   metrics.Tracer
}

// NewExecutorProvider builds an Executor from configuration.
func NewExecutorProvider(p ExecutorParams) *Executor {
	cfg := p.Config.QueryDeck.Executor
	return New(p.Store, p.Store, p.Resolver, p.Notifier,
		WithConcurrency(cfg.Concurrency),
		WithSampleRows(cfg.SampleRows),
		WithRecorder(p.Recorder),
		WithTracer(p.Tracer),
	)
}

// NewServiceProvider builds the schedule management Service.
func NewServiceProvider(store repository.Store) *Service {
	return NewService(store, store, store)
}

// Module provides the Executor and the schedule Service.
var Module = fx.Options(
	fx.Provide(NewExecutorProvider),
	fx.Provide(NewServiceProvider),
)
