package app

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/approval"
	"agentflow/internal/infra/credential"
	"agentflow/internal/infra/graph"
	"agentflow/internal/infra/model"
	"agentflow/internal/infra/notifications"
	"agentflow/internal/infra/registry"
	"agentflow/internal/infra/runner"
	"agentflow/internal/infra/runstore"
	"agentflow/internal/infra/telemetry"
	"agentflow/internal/infra/toolset"
	"agentflow/internal/infra/transport"
)

// Core holds the collaborators shared by every command: the credential
// gate, the tool server registry, and the model and tool transports.
type Core struct {
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  domain.Metrics
	Health   *telemetry.HealthTracker
	Events   *notifications.StageEventHub
	Gate     *credential.Gate
	Servers  *registry.Registry
	Client   *transport.MCPClient
	Tools    *toolset.Builder
	Model    *model.Capability
	Broker   *approval.Broker
	Store    *runstore.Store

	mu     sync.RWMutex
	config domain.Config
}

type CoreOptions struct {
	Config   domain.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  domain.Metrics
	Health   *telemetry.HealthTracker
	Events   *notifications.StageEventHub
	Gate     *credential.Gate
	Servers  *registry.Registry
	Client   *transport.MCPClient
	Tools    *toolset.Builder
	Model    *model.Capability
	Broker   *approval.Broker
	Store    *runstore.Store
}

func NewCore(opts CoreOptions) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	core := &Core{
		config:   opts.Config,
		Logger:   logger,
		Registry: opts.Registry,
		Metrics:  opts.Metrics,
		Health:   opts.Health,
		Events:   opts.Events,
		Gate:     opts.Gate,
		Servers:  opts.Servers,
		Client:   opts.Client,
		Tools:    opts.Tools,
		Model:    opts.Model,
		Broker:   opts.Broker,
		Store:    opts.Store,
	}
	core.registerHealthChecks()
	return core
}

// NewRunner builds a runner for flow, or for the configured flow when flow is empty.
func (c *Core) NewRunner(flow string, approver domain.Approver) (*runner.Runner, error) {
	cfg := c.Config()
	name := strings.TrimSpace(flow)
	if name == "" {
		name = cfg.Runner.Flow
	}
	g, err := graph.Lookup(name)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Deps{
		Graph:       g,
		Credentials: c.Gate,
		Servers:     c.Servers,
		Tools:       c.Tools,
		Model:       c.Model,
		Transport:   c.Client,
		Approver:    approver,
		Events:      c.Events,
		Metrics:     c.Metrics,
		Recorder:    c.recorder(),
		Logger:      c.Logger,
	}, runnerOptions(cfg.Runner))
}

// Apply reconciles a reloaded configuration: registry servers, the master
// switch and the credential. The credential pattern is fixed at startup.
func (c *Core) Apply(ctx context.Context, cfg domain.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Servers.Sync(serverConfigs(cfg.Registry), cfg.Registry.Enabled); err != nil {
		return err
	}
	applyCredential(c.Gate, cfg.Credential, c.Logger)
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	return nil
}

// Config returns the configuration last applied.
func (c *Core) Config() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Core) recorder() domain.RunRecorder {
	if c.Store == nil {
		return nil
	}
	return c.Store
}

func (c *Core) registerHealthChecks() {
	c.Health.AddCheck("credential", func() (bool, string) {
		state := c.Gate.State()
		switch {
		case state.Valid:
			return true, ""
		case state.Present:
			return false, state.Error
		default:
			return false, "credential not set"
		}
	})
	c.Health.AddCheck("registry", func() (bool, string) {
		if !c.Servers.Enabled() {
			return false, "registry disabled"
		}
		if len(c.Servers.ListEnabled()) == 0 {
			return false, "no enabled servers"
		}
		return true, ""
	})
}

func runnerOptions(cfg domain.RunnerConfig) runner.Options {
	return runner.Options{
		MaxToolRounds:    cfg.MaxToolRounds,
		ModelTimeout:     domain.Seconds(cfg.ModelTimeoutSeconds),
		ToolTimeout:      domain.Seconds(cfg.ToolTimeoutSeconds),
		ApprovalTimeout:  domain.Seconds(cfg.ApprovalTimeoutSeconds),
		TransformTimeout: domain.Seconds(cfg.TransformTimeoutSeconds),
	}
}
