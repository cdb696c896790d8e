package app

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/approval"
	"agentflow/internal/infra/credential"
	"agentflow/internal/infra/eventbus"
	"agentflow/internal/infra/model"
	"agentflow/internal/infra/notifications"
	"agentflow/internal/infra/probe"
	"agentflow/internal/infra/registry"
	"agentflow/internal/infra/rpc"
	"agentflow/internal/infra/runstore"
	"agentflow/internal/infra/telemetry"
	"agentflow/internal/infra/toolset"
	"agentflow/internal/infra/transport"
)

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewStageEventHub() *notifications.StageEventHub {
	return notifications.NewStageEventHub()
}

// NewCredentialGate builds the gate and seeds it with the configured value, if any.
func NewCredentialGate(cfg domain.Config, logger *zap.Logger) (*credential.Gate, error) {
	gate, err := credential.NewGate(credential.Options{
		Pattern:        cfg.Credential.Pattern,
		PatternMessage: cfg.Credential.PatternMessage,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	applyCredential(gate, cfg.Credential, logger)
	return gate, nil
}

func NewToolServerRegistry(cfg domain.Config, metrics domain.Metrics, logger *zap.Logger) (*registry.Registry, error) {
	return registry.New(registry.Options{
		Servers: serverConfigs(cfg.Registry),
		Enabled: cfg.Registry.Enabled,
		Logger:  logger,
		Metrics: metrics,
	})
}

func NewMCPClient(logger *zap.Logger) (*transport.MCPClient, func()) {
	client := transport.NewMCPClient(transport.MCPClientOptions{
		Logger:     logger,
		MaxRetries: domain.DefaultStreamableHTTPMaxRetries,
	})
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Debug("mcp client close failed", zap.Error(err))
		}
	}
	return client, cleanup
}

func NewToolsetBuilder(cfg domain.Config, client *transport.MCPClient, servers *registry.Registry, logger *zap.Logger) *toolset.Builder {
	return toolset.NewBuilder(toolset.Options{
		Lister:  client,
		Servers: servers,
		Timeout: domain.Seconds(cfg.Runner.ToolListTimeoutSeconds),
		Logger:  logger,
	})
}

func NewModelCapability(cfg domain.Config, metrics domain.Metrics, logger *zap.Logger) (*model.Capability, error) {
	return model.New(model.Options{
		Config:  cfg.Model,
		Metrics: metrics,
		Logger:  logger,
	})
}

func NewApprovalBroker(metrics domain.Metrics, logger *zap.Logger) *approval.Broker {
	return approval.NewBroker(logger, metrics)
}

// NewRunStore opens the run summary store, or returns nil when no path is configured.
func NewRunStore(cfg domain.Config, logger *zap.Logger) (*runstore.Store, func(), error) {
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" {
		return nil, func() {}, nil
	}
	store, err := runstore.Open(path, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("run store close failed", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

func NewProber(cfg domain.Config, client *transport.MCPClient, servers *registry.Registry, health *telemetry.HealthTracker, logger *zap.Logger) *probe.Prober {
	interval := domain.Seconds(cfg.Probe.IntervalSeconds)
	if interval <= 0 {
		interval = domain.Seconds(domain.DefaultProbeIntervalSeconds)
	}
	return probe.New(probe.Options{
		Pinger:    client,
		Servers:   servers,
		Interval:  interval,
		Timeout:   domain.Seconds(cfg.Probe.TimeoutSeconds),
		Logger:    logger,
		Heartbeat: health.Register("probe", 3*interval),
	})
}

func NewRPCServer(cfg domain.Config, gate *credential.Gate, servers *registry.Registry, logger *zap.Logger) *rpc.Server {
	return rpc.NewServer(rpc.Options{
		ListenAddress: cfg.RPC.ListenAddress,
		Checks: map[string]rpc.ReadinessCheck{
			rpc.ServiceCredential: gate.IsReady,
			rpc.ServiceRegistry:   func() bool { return registryReady(servers) },
		},
		Logger: logger,
	})
}

func NewObservabilityController(registry *prometheus.Registry, health *telemetry.HealthTracker, logger *zap.Logger) *telemetry.ObservabilityController {
	metricsEnabled, healthzEnabled := resolveObservabilityDefaults()
	return telemetry.NewObservabilityController(telemetry.ObservabilityControllerOptions{
		DefaultMetricsEnabled: metricsEnabled,
		DefaultHealthzEnabled: healthzEnabled,
		Registry:              registry,
		Health:                health,
		Logger:                logger,
	})
}

// NewEventPublisher connects to NATS when events.natsURL is set and returns nil otherwise.
func NewEventPublisher(ctx context.Context, cfg domain.Config, logger *zap.Logger) (*eventbus.Publisher, func(), error) {
	url := strings.TrimSpace(cfg.Events.NATSURL)
	if url == "" {
		return nil, func() {}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn, err := eventbus.Connect(url, logger)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := eventbus.NewPublisher(conn, eventbus.Options{Subject: cfg.Events.Subject, Logger: logger})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return publisher, conn.Close, nil
}

func serverConfigs(cfg domain.RegistryConfig) []domain.ToolServerConfig {
	if cfg.UseDefaults {
		return registry.DefaultServers()
	}
	return cfg.Servers
}

func registryReady(servers *registry.Registry) bool {
	return servers.Enabled() && len(servers.ListEnabled()) > 0
}

func applyCredential(gate *credential.Gate, cfg domain.CredentialConfig, logger *zap.Logger) {
	if strings.TrimSpace(cfg.Value) == "" {
		gate.Clear()
		return
	}
	if result := gate.Set(cfg.Value); !result.Success {
		logger.Warn("configured credential rejected",
			zap.String("code", string(result.Code)),
			zap.String("reason", result.Error),
		)
	}
}
