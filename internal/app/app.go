package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/approval"
	"agentflow/internal/infra/catalog"
	"agentflow/internal/infra/probe"
	"agentflow/internal/infra/runner"
	"agentflow/internal/infra/runstore"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
}

type ValidateConfig struct {
	ConfigPath string
}

// ApproveMode selects how gated tool calls are decided for a CLI turn.
type ApproveMode string

const (
	ApproveAsk  ApproveMode = "ask"
	ApproveAll  ApproveMode = "all"
	ApproveNone ApproveMode = "none"
)

func ParseApproveMode(value string) (ApproveMode, error) {
	switch mode := ApproveMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case ApproveAsk, ApproveAll, ApproveNone:
		return mode, nil
	case "":
		return ApproveAsk, nil
	default:
		return "", fmt.Errorf("unknown approval mode %q (want ask, all or none)", value)
	}
}

// AskFunc decides one gated tool call interactively.
type AskFunc func(ctx context.Context, req domain.ApprovalRequest) domain.ApprovalVerdict

type RunConfig struct {
	ConfigPath string
	Prompt     string
	Flow       string
	Approve    ApproveMode
	Ask        AskFunc
	// OnEvent receives every stage and run event of the turn.
	OnEvent func(domain.StageEvent)
}

type ServersConfig struct {
	ConfigPath string
	Probe      bool
}

type RunsConfig struct {
	ConfigPath string
	Limit      int
	ID         string
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve runs the observability, health and probing services until ctx is done.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	config, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	application, cleanup, err := InitializeApplication(ctx, config, cfg, a.logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return application.Run(ctx)
}

// ValidateConfig loads and validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) (domain.Config, error) {
	config, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.Config{}, err
	}
	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.String("flow", config.Runner.Flow),
		zap.Int("servers", len(serverConfigs(config.Registry))),
	)
	return config, nil
}

// Run executes a single turn and returns the final snapshot of the run.
func (a *App) Run(ctx context.Context, cfg RunConfig) (domain.RunSnapshot, error) {
	config, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	core, cleanup, err := InitializeCore(config, a.logger)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	defer cleanup()
	return a.runTurn(ctx, core, cfg)
}

func (a *App) runTurn(ctx context.Context, core *Core, cfg RunConfig) (domain.RunSnapshot, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	approver, err := a.approver(runCtx, core, cfg)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	r, err := core.NewRunner(cfg.Flow, approver)
	if err != nil {
		return domain.RunSnapshot{}, err
	}
	run := r.NewRun()

	var forwarded chan struct{}
	if cfg.OnEvent != nil {
		events := core.Events.Subscribe(runCtx, "")
		forwarded = make(chan struct{})
		go func() {
			defer close(forwarded)
			for event := range events {
				cfg.OnEvent(event)
			}
		}()
	}

	snapshot, err := run.Execute(runCtx, runner.Turn{Text: cfg.Prompt})
	cancel()
	if forwarded != nil {
		<-forwarded
	}
	return snapshot, err
}

func (a *App) approver(ctx context.Context, core *Core, cfg RunConfig) (domain.Approver, error) {
	mode := cfg.Approve
	if mode == "" {
		mode = ApproveAsk
	}
	switch mode {
	case ApproveAll:
		return approval.ApproveAll(), nil
	case ApproveNone:
		return approval.DenyAll(), nil
	case ApproveAsk:
		if cfg.Ask == nil {
			return nil, domain.E(domain.CodeInvalidArgument, "app.run", "ask mode needs an approval prompt", nil)
		}
		requests := core.Broker.Requests(ctx)
		go func() {
			for req := range requests {
				verdict := cfg.Ask(ctx, req)
				if err := core.Broker.Decide(req.CallID, verdict); err != nil {
					a.logger.Debug("approval decision dropped", zap.String("call_id", req.CallID), zap.Error(err))
				}
			}
		}()
		return core.Broker, nil
	default:
		return nil, domain.E(domain.CodeInvalidArgument, "app.run", fmt.Sprintf("unknown approval mode %q", mode), nil)
	}
}

// Servers lists the registry, pinging every enabled server first when cfg.Probe is set.
func (a *App) Servers(ctx context.Context, cfg ServersConfig) ([]domain.ToolServer, error) {
	config, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	core, cleanup, err := InitializeCore(config, a.logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if cfg.Probe {
		prober := probe.New(probe.Options{
			Pinger:  core.Client,
			Servers: core.Servers,
			Timeout: domain.Seconds(config.Probe.TimeoutSeconds),
			Logger:  a.logger,
		})
		prober.ProbeOnce(ctx)
	}
	return core.Servers.List(), nil
}

// Runs reads recorded run summaries, newest first, or a single one when cfg.ID is set.
func (a *App) Runs(ctx context.Context, cfg RunsConfig) ([]domain.RunRecord, error) {
	config, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(config.Store.Path) == "" {
		return nil, domain.E(domain.CodeFailedPrecond, "app.runs", "store.path is not configured", nil)
	}
	store, err := runstore.Open(config.Store.Path, a.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("run store close failed", zap.Error(err))
		}
	}()

	if id := strings.TrimSpace(cfg.ID); id != "" {
		record, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		return []domain.RunRecord{record}, nil
	}
	return store.List(cfg.Limit)
}
