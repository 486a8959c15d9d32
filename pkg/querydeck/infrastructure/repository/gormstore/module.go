package gormstore

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// StoreParams defines the dependencies for NewStoreProvider.
type StoreParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewStoreProvider opens the configured store and closes it when the application stops.
func NewStoreProvider(p StoreParams) (*Store, error) {
	st, err := Open(p.Config.QueryDeck.Store)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

// Module provides Store as repository.Store.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewStoreProvider,
			fx.As(new(repository.Store)),
		),
	),
)
