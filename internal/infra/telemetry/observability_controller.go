package telemetry

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

type ObservabilityControllerOptions struct {
	DefaultMetricsEnabled bool
	DefaultHealthzEnabled bool
	Registry              prometheus.Gatherer
	Health                *HealthTracker
	Logger                *zap.Logger
}

// ObservabilityController keeps one observability HTTP server in line with
// the latest configuration, restarting it when the address or endpoint set
// changes.
type ObservabilityController struct {
	opts   ObservabilityControllerOptions
	logger *zap.Logger

	mu     sync.Mutex
	active *observabilityRun
}

type observabilityState struct {
	addr           string
	metricsEnabled bool
	healthzEnabled bool
}

type observabilityRun struct {
	state  observabilityState
	cancel context.CancelFunc
	done   chan struct{}
}

func (s observabilityState) serves() bool {
	return s.metricsEnabled || s.healthzEnabled
}

func NewObservabilityController(opts ObservabilityControllerOptions) *ObservabilityController {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservabilityController{opts: opts, logger: logger.Named("observability")}
}

// Apply starts, restarts or stops the server for cfg. The server lives until
// ctx is done or the next Apply replaces it.
func (c *ObservabilityController) Apply(ctx context.Context, cfg domain.ObservabilityConfig) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	state := resolveObservabilityState(c.opts, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.state == state && !c.active.finished() {
		return nil
	}
	c.stopLocked()
	if !state.serves() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &observabilityRun{state: state, cancel: cancel, done: make(chan struct{})}
	c.active = run
	c.logger.Info("starting observability server", zap.String("addr", state.addr), EventField(EventConfigReload))

	go func() {
		defer close(run.done)
		err := StartHTTPServer(runCtx, HTTPServerOptions{
			Addr:          state.addr,
			EnableMetrics: state.metricsEnabled,
			EnableHealthz: state.healthzEnabled,
			Health:        c.opts.Health,
			Registry:      c.opts.Registry,
		}, c.logger)
		if err != nil {
			c.logger.Error("observability server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down and waits for it to release its address.
func (c *ObservabilityController) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Address reports the address of the running server, or "" when stopped.
func (c *ObservabilityController) Address() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.finished() {
		return ""
	}
	return c.active.state.addr
}

func (c *ObservabilityController) stopLocked() {
	if c.active == nil {
		return
	}
	c.active.cancel()
	<-c.active.done
	c.active = nil
}

func (r *observabilityRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func resolveObservabilityState(opts ObservabilityControllerOptions, cfg domain.ObservabilityConfig) observabilityState {
	state := observabilityState{
		addr:           strings.TrimSpace(cfg.ListenAddress),
		metricsEnabled: opts.DefaultMetricsEnabled,
		healthzEnabled: opts.DefaultHealthzEnabled,
	}
	if state.addr == "" {
		state.addr = domain.DefaultObservabilityListenAddress
	}
	if cfg.MetricsEnabled != nil {
		state.metricsEnabled = *cfg.MetricsEnabled
	}
	if cfg.HealthzEnabled != nil {
		state.healthzEnabled = *cfg.HealthzEnabled
	}
	return state
}
