package server

import (
	"context"
	"net"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// ServerParams defines the dependencies for NewServerProvider.
type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Executor   *executor.Executor
	Sweeper    *retention.Sweeper
	Schedules  *executor.Service
	Snapshots  *schema.Service
	Console    *connector.Console
	Prometheus *metrics.PrometheusRecorder
}

// NewServerProvider builds the Server and binds it to the application lifecycle.
// A listener failure shuts the application down.
func NewServerProvider(p ServerParams) *Server {
	cfg := p.Config.QueryDeck.Server
	s := New(p.Executor, p.Sweeper, p.Schedules, p.Snapshots, p.Console,
		WithToken(cfg.Token),
		WithGatherer(p.Prometheus.Registry()),
	)
	if cfg.Token == "" {
		logger.Warnf("server: no token configured; trigger routes are unauthenticated")
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			logger.Infof("server: listening on %s", ln.Addr())
			go func() {
				if err := s.app.Listener(ln); err != nil {
					logger.Errorf("server: stopped: %v", err)
					_ = p.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: s.Shutdown,
	})
	return s
}

// Module provides the Server and starts it with the application.
var Module = fx.Options(
	fx.Provide(NewServerProvider),
	fx.Invoke(func(*Server) {}),
)
