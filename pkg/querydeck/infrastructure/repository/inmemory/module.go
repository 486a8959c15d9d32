package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// Module provides Store as repository.Store.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewStore,
			fx.As(new(repository.Store)),
		),
	),
)
