package schema

import (
	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
)

// ServiceParams defines the dependencies for NewServiceProvider.
type ServiceParams struct {
	fx.In
	Config   *config.Config
	Store    repository.Store
	Resolver connector.Resolver
	Recorder metrics.Recorder
	Tracer   metrics.Tracer
}

// NewServiceProvider builds the snapshot Service from configuration.
func NewServiceProvider(p ServiceParams) *Service {
	return NewService(p.Store, p.Store, p.Resolver,
		WithPageSize(p.Config.QueryDeck.Schema.PageSize),
		WithQueryTimeout(p.Config.QueryDeck.Pool.QueryTimeout()),
		WithRecorder(p.Recorder),
		WithTracer(p.Tracer),
	)
}

// Module provides the snapshot Service.
var Module = fx.Options(
	fx.Provide(NewServiceProvider),
)
