package notification

import (
	"net/http"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/ports"
)

// DispatcherParams defines the dependencies for NewDispatcherProvider.
type DispatcherParams struct {
	fx.In
	Config *config.Config
	Store  repository.Store
}

// NewDispatcherProvider builds the Dispatcher and its email, push and webhook channels from configuration.
func NewDispatcherProvider(p DispatcherParams) *Dispatcher {
	cfg := p.Config.QueryDeck.Notification
	client := &http.Client{Timeout: cfg.WebhookTimeout()}
	return NewDispatcher(p.Store, p.Store,
		[]Channel{
			NewEmailChannel(cfg.SMTP, nil),
			NewPushChannel(cfg.PushEndpoint, client),
			NewWebhookChannel(client),
		},
		WithRateLimit(cfg.RatePerSecond, cfg.Burst),
	)
}

// Module provides the Dispatcher as ports.Notifier.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewDispatcherProvider,
			fx.As(new(ports.Notifier)),
		),
	),
)
