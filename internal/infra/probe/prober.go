package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

// ServerSource is the part of the registry the prober reads and updates.
type ServerSource interface {
	ListEnabled() []domain.ToolServer
	ReportStatus(id string, status domain.ServerStatus, lastError string) error
}

type Options struct {
	Pinger    domain.ServerPinger
	Servers   ServerSource
	Interval  time.Duration
	Timeout   time.Duration
	Logger    *zap.Logger
	Heartbeat *telemetry.Heartbeat
}

// Result is the outcome of pinging one server.
type Result struct {
	ServerID string
	Status   domain.ServerStatus
	Err      error
	Duration time.Duration
}

// Prober pings enabled tool servers and records their status in the registry.
type Prober struct {
	pinger    domain.ServerPinger
	servers   ServerSource
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	heartbeat *telemetry.Heartbeat
}

func New(opts Options) *Prober {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = domain.Seconds(domain.DefaultProbeIntervalSeconds)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.Seconds(domain.DefaultProbeTimeoutSeconds)
	}
	return &Prober{
		pinger:    opts.Pinger,
		servers:   opts.Servers,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.Named("probe"),
		heartbeat: opts.Heartbeat,
	}
}

// ProbeOnce pings every enabled server concurrently and returns the results
// in registry order.
func (p *Prober) ProbeOnce(ctx context.Context) []Result {
	servers := p.servers.ListEnabled()
	results := make([]Result, len(servers))

	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server domain.ToolServer) {
			defer wg.Done()
			results[i] = p.probe(ctx, server)
		}(i, server)
	}
	wg.Wait()

	for _, result := range results {
		if ctx.Err() != nil {
			break
		}
		lastError := ""
		if result.Err != nil {
			lastError = result.Err.Error()
		}
		if err := p.servers.ReportStatus(result.ServerID, result.Status, lastError); err != nil {
			p.logger.Debug("status report skipped", telemetry.ServerIDField(result.ServerID), zap.Error(err))
		}
	}
	p.heartbeat.Beat()
	return results
}

func (p *Prober) probe(ctx context.Context, server domain.ToolServer) Result {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	err := p.pinger.Ping(pingCtx, server)
	result := Result{
		ServerID: server.ID,
		Status:   domain.ServerStatusConnected,
		Err:      err,
		Duration: time.Since(started),
	}
	if err != nil {
		result.Status = domain.ServerStatusError
		p.logger.Warn("tool server ping failed",
			telemetry.EventField(telemetry.EventPingFailure),
			telemetry.ServerIDField(server.ID),
			telemetry.DurationField(result.Duration),
			zap.Error(err),
		)
	}
	return result
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("prober started", zap.Duration("interval", p.interval))
	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prober stopped")
			return nil
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
