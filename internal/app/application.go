package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/catalog"
	"agentflow/internal/infra/eventbus"
	"agentflow/internal/infra/probe"
	"agentflow/internal/infra/rpc"
	"agentflow/internal/infra/telemetry"
)

// Application runs the long-lived services behind `serve`.
type Application struct {
	configPath    string
	core          *Core
	prober        *probe.Prober
	rpcServer     *rpc.Server
	observability *telemetry.ObservabilityController
	publisher     *eventbus.Publisher
	logger        *zap.Logger
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	ServeConfig   ServeConfig
	Core          *Core
	Prober        *probe.Prober
	RPCServer     *rpc.Server
	Observability *telemetry.ObservabilityController
	Publisher     *eventbus.Publisher
	Logger        *zap.Logger
}

func NewApplication(opts ApplicationOptions) *Application {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		configPath:    opts.ServeConfig.ConfigPath,
		core:          opts.Core,
		prober:        opts.Prober,
		rpcServer:     opts.RPCServer,
		observability: opts.Observability,
		publisher:     opts.Publisher,
		logger:        logger,
	}
}

// Run starts every service and blocks until ctx is done or one of them fails.
func (a *Application) Run(ctx context.Context) error {
	cfg := a.core.Config()
	a.logger.Info("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("flow", cfg.Runner.Flow),
		zap.Int("servers", len(a.core.Servers.List())),
		zap.Bool("credential_ready", a.core.Gate.IsReady()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.observability.Apply(runCtx, cfg.Observability); err != nil {
		a.logger.Warn("observability apply failed", zap.Error(err))
	}
	defer a.observability.Stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("service stopped", zap.String("service", name), zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("probe", a.prober.Run)
	start("rpc", a.rpcServer.Run)
	if a.configPath != "" {
		watcher := catalog.NewWatcher(catalog.WatcherOptions{
			Path:     a.configPath,
			OnReload: a.reload,
			Logger:   a.logger,
		})
		start("config watcher", watcher.Run)
	}
	if a.publisher != nil {
		start("event publisher", func(ctx context.Context) error {
			return a.publisher.Run(ctx, a.core.Events)
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()
	a.logger.Info("shutdown complete")
	return runErr
}

func (a *Application) reload(ctx context.Context, cfg domain.Config) {
	if err := a.core.Apply(ctx, cfg); err != nil {
		a.logger.Warn("config apply failed", telemetry.EventField(telemetry.EventConfigReload), zap.Error(err))
		return
	}
	if err := a.observability.Apply(ctx, cfg.Observability); err != nil {
		a.logger.Warn("observability apply failed", zap.Error(err))
	}
	a.rpcServer.Refresh()
}
