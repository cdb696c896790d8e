package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

// Options configures a Registry.
type Options struct {
	Servers []domain.ToolServerConfig
	Enabled bool
	Logger  *zap.Logger
	Metrics domain.Metrics
	NewID   func() string
}

// Registry is the shared set of tool servers. Writers are serialized and
// readers only ever receive deep copies.
type Registry struct {
	logger  *zap.Logger
	metrics domain.Metrics
	newID   func() string

	mu          sync.RWMutex
	servers     []domain.ToolServer
	enabled     bool
	seed        []domain.ToolServerConfig
	seedEnabled bool
}

func New(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	r := &Registry{
		logger:  logger.Named("registry"),
		metrics: opts.Metrics,
		newID:   newID,
	}
	servers, err := r.build(opts.Servers, nil)
	if err != nil {
		return nil, err
	}
	r.servers = servers
	r.enabled = opts.Enabled
	r.seed = cloneConfigs(opts.Servers)
	r.seedEnabled = opts.Enabled
	r.publishCounts()
	return r, nil
}

// AddServer registers a server under a fresh id with status unknown.
func (r *Registry) AddServer(cfg domain.ToolServerConfig) (domain.ToolServer, error) {
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return domain.ToolServer{}, domain.E(domain.CodeInvalidArgument, "registry.add", err.Error(), err)
	}
	server := fromConfig(r.newID(), cfg)

	r.mu.Lock()
	r.servers = append(r.servers, server)
	r.mu.Unlock()

	r.logger.Info("tool server added", zap.String("server", server.ID), zap.String("label", server.Label))
	r.publishCounts()
	return server.Clone(), nil
}

func (r *Registry) UpdateServer(id string, patch domain.ToolServerPatch) error {
	if patch.Endpoint != nil {
		if err := validateEndpoint(*patch.Endpoint); err != nil {
			return domain.E(domain.CodeInvalidArgument, "registry.update", err.Error(), err)
		}
	}
	err := r.mutate(id, "registry.update", func(server *domain.ToolServer) {
		applyPatch(server, patch)
	})
	if err == nil {
		r.publishCounts()
	}
	return err
}

func (r *Registry) RemoveServer(id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return notFound("registry.remove", id)
	}
	next := make([]domain.ToolServer, 0, len(r.servers)-1)
	next = append(next, r.servers[:idx]...)
	next = append(next, r.servers[idx+1:]...)
	r.servers = next
	r.mu.Unlock()

	r.logger.Info("tool server removed", zap.String("server", id))
	r.publishCounts()
	return nil
}

// ToggleServer flips the enabled flag. Disabled servers are dropped from the
// next ListEnabled snapshot; calls already dispatched are left alone.
func (r *Registry) ToggleServer(id string) error {
	err := r.mutate(id, "registry.toggle", func(server *domain.ToolServer) {
		server.Enabled = !server.Enabled
	})
	if err == nil {
		r.publishCounts()
	}
	return err
}

// ReportStatus records the outcome of a health probe or a failed call.
func (r *Registry) ReportStatus(id string, status domain.ServerStatus, lastError string) error {
	if !status.Valid() {
		return domain.E(domain.CodeInvalidArgument, "registry.status", fmt.Sprintf("unknown status %q", status), nil)
	}
	err := r.mutate(id, "registry.status", func(server *domain.ToolServer) {
		server.Status = status
		server.LastError = lastError
	})
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.SetServerStatus(id, status)
	}
	return nil
}

// ListEnabled returns the enabled servers in registration order, or nothing
// when the registry itself is switched off.
func (r *Registry) ListEnabled() []domain.ToolServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.enabled {
		return []domain.ToolServer{}
	}
	out := make([]domain.ToolServer, 0, len(r.servers))
	for _, server := range r.servers {
		if server.Enabled {
			out = append(out, server.Clone())
		}
	}
	return out
}

func (r *Registry) List() []domain.ToolServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolServer, 0, len(r.servers))
	for _, server := range r.servers {
		out = append(out, server.Clone())
	}
	return out
}

func (r *Registry) Get(id string) (domain.ToolServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return domain.ToolServer{}, false
	}
	return r.servers[idx].Clone(), true
}

// Enabled reports the master switch.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled sets the master switch without touching per-server flags.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
	r.publishCounts()
}

func (r *Registry) ToggleRegistry() bool {
	r.mu.Lock()
	r.enabled = !r.enabled
	enabled := r.enabled
	r.mu.Unlock()
	r.publishCounts()
	return enabled
}

// ResolveApproval applies the allow-list and then the approval policy.
func (r *Registry) ResolveApproval(serverID, toolName string) domain.ApprovalDecision {
	r.mu.RLock()
	idx := r.indexLocked(serverID)
	if idx < 0 {
		r.mu.RUnlock()
		return domain.ApprovalUnavailable
	}
	server := r.servers[idx]
	allowed := server.AllowsTool(toolName)
	requires := server.Approval.RequiresApproval(toolName)
	r.mu.RUnlock()

	switch {
	case !allowed:
		return domain.ApprovalUnavailable
	case requires:
		return domain.ApprovalRequired
	default:
		return domain.ApprovalAuto
	}
}

// Reset restores the seeded servers and master switch.
func (r *Registry) Reset() error {
	r.mu.RLock()
	seed := cloneConfigs(r.seed)
	enabled := r.seedEnabled
	r.mu.RUnlock()

	servers, err := r.build(seed, nil)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.servers = servers
	r.enabled = enabled
	r.mu.Unlock()
	r.publishCounts()
	return nil
}

// Sync replaces the configured servers, keeping the last known status of
// servers whose id and endpoint are unchanged. Servers added at runtime
// through AddServer are dropped.
func (r *Registry) Sync(configs []domain.ToolServerConfig, enabled bool) error {
	r.mu.RLock()
	previous := make(map[string]domain.ToolServer, len(r.servers))
	for _, server := range r.servers {
		previous[server.ID] = server
	}
	r.mu.RUnlock()

	servers, err := r.build(configs, previous)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.servers = servers
	r.enabled = enabled
	r.seed = cloneConfigs(configs)
	r.seedEnabled = enabled
	r.mu.Unlock()

	r.logger.Info("tool servers synced", zap.Int("servers", len(servers)), zap.Bool("enabled", enabled))
	r.publishCounts()
	return nil
}

func (r *Registry) build(configs []domain.ToolServerConfig, previous map[string]domain.ToolServer) ([]domain.ToolServer, error) {
	servers := make([]domain.ToolServer, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))
	var errs []error
	for i, cfg := range configs {
		if err := validateEndpoint(cfg.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d]: %w", i, err))
			continue
		}
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			id = r.newID()
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate id %q", i, id))
			continue
		}
		seen[id] = struct{}{}
		server := fromConfig(id, cfg)
		if prev, ok := previous[id]; ok && prev.Endpoint == server.Endpoint {
			server.Status = prev.Status
			server.LastError = prev.LastError
		}
		servers = append(servers, server)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		return nil, domain.E(domain.CodeInvalidArgument, "registry.build", err.Error(), err)
	}
	return servers, nil
}

func (r *Registry) mutate(id, op string, fn func(server *domain.ToolServer)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return notFound(op, id)
	}
	updated := r.servers[idx].Clone()
	fn(&updated)
	next := make([]domain.ToolServer, len(r.servers))
	copy(next, r.servers)
	next[idx] = updated
	r.servers = next
	return nil
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.servers {
		if r.servers[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) publishCounts() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetEnabledServers(len(r.ListEnabled()))
}

func fromConfig(id string, cfg domain.ToolServerConfig) domain.ToolServer {
	label := strings.TrimSpace(cfg.Label)
	if label == "" {
		label = id
	}
	return domain.ToolServer{
		ID:            id,
		Label:         label,
		Description:   cfg.Description,
		Endpoint:      strings.TrimSpace(cfg.Endpoint),
		Enabled:       cfg.Enabled,
		Approval:      cfg.Approval.Clone(),
		AllowedTools:  domain.CloneStrings(cfg.AllowedTools),
		Authorization: cfg.Authorization,
		Headers:       domain.CloneStringMap(cfg.Headers),
		Status:        domain.ServerStatusUnknown,
	}
}

func applyPatch(server *domain.ToolServer, patch domain.ToolServerPatch) {
	if patch.Label != nil {
		server.Label = *patch.Label
	}
	if patch.Description != nil {
		server.Description = *patch.Description
	}
	if patch.Endpoint != nil {
		server.Endpoint = strings.TrimSpace(*patch.Endpoint)
	}
	if patch.Enabled != nil {
		server.Enabled = *patch.Enabled
	}
	if patch.Approval != nil {
		server.Approval = patch.Approval.Clone()
	}
	if patch.AllowedTools != nil {
		server.AllowedTools = domain.CloneStrings(*patch.AllowedTools)
	}
	if patch.Authorization != nil {
		server.Authorization = *patch.Authorization
	}
	if patch.Headers != nil {
		server.Headers = domain.CloneStringMap(*patch.Headers)
	}
}

func validateEndpoint(endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return domain.ErrEndpointRequired
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", trimmed, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid endpoint %q: scheme and host are required", trimmed)
	}
	return nil
}

func notFound(op, id string) error {
	return domain.E(domain.CodeNotFound, op, fmt.Sprintf("server %q", id), domain.ErrServerNotFound)
}

func cloneConfigs(in []domain.ToolServerConfig) []domain.ToolServerConfig {
	if in == nil {
		return nil
	}
	out := make([]domain.ToolServerConfig, len(in))
	for i, cfg := range in {
		cfg.Approval = cfg.Approval.Clone()
		cfg.AllowedTools = domain.CloneStrings(cfg.AllowedTools)
		cfg.Headers = domain.CloneStringMap(cfg.Headers)
		out[i] = cfg
	}
	return out
}
