package toolset

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/hashutil"
	"agentflow/internal/infra/telemetry"
)

// ServerSource is the registry view used for discovery.
type ServerSource interface {
	ListEnabled() []domain.ToolServer
	ResolveApproval(serverID, toolName string) domain.ApprovalDecision
	ReportStatus(id string, status domain.ServerStatus, lastError string) error
}

type Options struct {
	Lister  domain.ToolLister
	Servers ServerSource
	Timeout time.Duration
	Logger  *zap.Logger
}

// Builder discovers the tools offered to the model for one turn.
type Builder struct {
	lister  domain.ToolLister
	servers ServerSource
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	etags map[string]string
}

func NewBuilder(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		lister:  opts.Lister,
		servers: opts.Servers,
		timeout: opts.Timeout,
		logger:  logger.Named("toolset"),
		etags:   make(map[string]string),
	}
}

type discovery struct {
	server domain.ToolServer
	tools  []domain.ToolDefinition
	err    error
}

// Build lists tools from every enabled server. A server that cannot be listed
// is marked as errored and left out; the turn continues with the rest.
func (b *Builder) Build(ctx context.Context) *Toolset {
	servers := b.servers.ListEnabled()
	if len(servers) == 0 || b.lister == nil {
		return newToolset(nil, b.logger)
	}

	found := make([]discovery, len(servers))
	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server domain.ToolServer) {
			defer wg.Done()
			found[i] = b.list(ctx, server)
		}(i, server)
	}
	wg.Wait()

	var specs []domain.ToolSpec
	owners := make(map[string]string)
	for _, item := range found {
		if item.err != nil {
			if ctx.Err() == nil {
				b.reportStatus(item.server.ID, domain.ServerStatusError, item.err.Error())
			}
			b.logger.Warn("tool discovery failed", telemetry.ServerIDField(item.server.ID), zap.Error(item.err))
			continue
		}
		b.reportStatus(item.server.ID, domain.ServerStatusConnected, "")
		b.trackChanges(item.server.ID, item.tools)

		for _, tool := range item.tools {
			if b.servers.ResolveApproval(item.server.ID, tool.Name) == domain.ApprovalUnavailable {
				continue
			}
			if owner, taken := owners[tool.Name]; taken {
				b.logger.Warn("duplicate tool name ignored",
					telemetry.ToolField(tool.Name),
					telemetry.ServerIDField(item.server.ID),
					zap.String("owner", owner),
				)
				continue
			}
			owners[tool.Name] = item.server.ID
			specs = append(specs, domain.ToolSpec{
				Name:        tool.Name,
				Description: describe(tool),
				Schema:      schemaObject(tool.InputSchema),
				ServerID:    item.server.ID,
			})
		}
	}
	return newToolset(specs, b.logger)
}

func (b *Builder) list(ctx context.Context, server domain.ToolServer) discovery {
	listCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	tools, err := b.lister.ListTools(listCtx, server)
	return discovery{server: server, tools: tools, err: err}
}

func (b *Builder) trackChanges(serverID string, tools []domain.ToolDefinition) {
	etag := hashutil.ToolETag(b.logger, tools)
	b.mu.Lock()
	previous, seen := b.etags[serverID]
	b.etags[serverID] = etag
	b.mu.Unlock()
	if seen && previous != etag {
		b.logger.Info("tool list changed", telemetry.ServerIDField(serverID), zap.Int("tools", len(tools)))
	}
}

func describe(tool domain.ToolDefinition) string {
	if tool.Description != "" {
		return tool.Description
	}
	return tool.Title
}

func schemaObject(schema any) map[string]any {
	if obj, ok := schema.(map[string]any); ok && obj != nil {
		return obj
	}
	return map[string]any{"type": "object"}
}

// reportStatus records a discovery outcome. The server may have been removed
// while it was being listed.
func (b *Builder) reportStatus(id string, status domain.ServerStatus, lastError string) {
	if err := b.servers.ReportStatus(id, status, lastError); err != nil {
		b.logger.Debug("report server status failed", telemetry.ServerIDField(id), zap.Error(err))
	}
}
