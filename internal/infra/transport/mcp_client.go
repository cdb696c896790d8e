package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/hashutil"
	"agentflow/internal/infra/mcpcodec"
)

// MCPClientOptions configures an MCPClient.
type MCPClientOptions struct {
	Logger        *zap.Logger
	ClientName    string
	ClientVersion string
	MaxRetries    int
	// Base is the round tripper under the header injector. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// MCPClient talks to remote tool servers over streamable HTTP. Sessions are
// kept per server and replaced when its connection settings change.
type MCPClient struct {
	logger     *zap.Logger
	impl       *mcp.Implementation
	maxRetries int
	base       http.RoundTripper

	mu       sync.Mutex
	sessions map[string]*cachedSession
}

type cachedSession struct {
	key     string
	session *mcp.ClientSession
}

func NewMCPClient(opts MCPClientOptions) *MCPClient {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.ClientName
	if name == "" {
		name = domain.DefaultClientName
	}
	version := opts.ClientVersion
	if version == "" {
		version = domain.DefaultClientVersion
	}
	return &MCPClient{
		logger:     logger.Named("mcp_client"),
		impl:       &mcp.Implementation{Name: name, Version: version},
		maxRetries: opts.MaxRetries,
		base:       opts.Base,
		sessions:   make(map[string]*cachedSession),
	}
}

// Invoke calls a tool. A tool-level error comes back as a result with
// IsError set; only transport problems are returned as errors.
func (c *MCPClient) Invoke(ctx context.Context, server domain.ToolServer, toolName string, args json.RawMessage) (domain.ToolResult, error) {
	arguments, err := mcpcodec.ArgumentsObject(args)
	if err != nil {
		return domain.ToolResult{}, domain.E(domain.CodeInvalidArgument, "transport.invoke", err.Error(), err)
	}
	session, err := c.session(ctx, server)
	if err != nil {
		return domain.ToolResult{}, fault("transport.invoke", server, err)
	}
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		c.evict(server.ID, session)
		return domain.ToolResult{}, fault("transport.invoke", server, err)
	}
	return domain.ToolResult{
		ToolName: toolName,
		ServerID: server.ID,
		Content:  mcpcodec.ResultText(result),
		IsError:  result.IsError,
	}, nil
}

// ListTools returns every tool the server advertises, following pagination.
func (c *MCPClient) ListTools(ctx context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error) {
	session, err := c.session(ctx, server)
	if err != nil {
		return nil, fault("transport.list_tools", server, err)
	}
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		page, err := session.ListTools(ctx, params)
		if err != nil {
			c.evict(server.ID, session)
			return nil, fault("transport.list_tools", server, err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: page.NextCursor}
	}
	return mcpcodec.ToolsFromMCP(tools), nil
}

func (c *MCPClient) Ping(ctx context.Context, server domain.ToolServer) error {
	session, err := c.session(ctx, server)
	if err != nil {
		return fault("transport.ping", server, err)
	}
	if err := session.Ping(ctx, &mcp.PingParams{}); err != nil {
		c.evict(server.ID, session)
		return fault("transport.ping", server, err)
	}
	return nil
}

// Close ends every cached session.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*cachedSession)
	c.mu.Unlock()

	var errs []error
	for id, cached := range sessions {
		if err := cached.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *MCPClient) session(ctx context.Context, server domain.ToolServer) (*mcp.ClientSession, error) {
	key := hashutil.ConnectionKey(server)

	c.mu.Lock()
	cached, ok := c.sessions[server.ID]
	c.mu.Unlock()
	if ok && cached.key == key {
		return cached.session, nil
	}

	transport, err := newStreamableTransport(server, c.base, c.maxRetries)
	if err != nil {
		return nil, err
	}
	client := mcp.NewClient(c.impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect streamable http: %w", err)
	}

	c.mu.Lock()
	previous, hadPrevious := c.sessions[server.ID]
	if hadPrevious && previous.key == key {
		c.mu.Unlock()
		_ = session.Close()
		return previous.session, nil
	}
	c.sessions[server.ID] = &cachedSession{key: key, session: session}
	c.mu.Unlock()

	if hadPrevious {
		c.closeQuietly(server.ID, previous.session)
	}
	c.logger.Debug("mcp session opened", zap.String("server", server.ID), zap.String("endpoint", server.Endpoint))
	return session, nil
}

func (c *MCPClient) evict(serverID string, session *mcp.ClientSession) {
	c.mu.Lock()
	cached, ok := c.sessions[serverID]
	if ok && cached.session == session {
		delete(c.sessions, serverID)
	} else {
		ok = false
	}
	c.mu.Unlock()
	if ok {
		c.closeQuietly(serverID, session)
	}
}

func (c *MCPClient) closeQuietly(serverID string, session *mcp.ClientSession) {
	if err := session.Close(); err != nil {
		c.logger.Debug("close mcp session failed", zap.String("server", serverID), zap.Error(err))
	}
}

func fault(op string, server domain.ToolServer, err error) error {
	if code, ok := domain.CodeFrom(err); ok && (code == domain.CodeTimeout || code == domain.CodeCanceled || code == domain.CodeInvalidArgument) {
		return domain.E(code, op, fmt.Sprintf("server %s: %v", server.ID, err), err)
	}
	return domain.E(domain.CodeTransportFault, op, fmt.Sprintf("server %s: %v", server.ID, err), err)
}

var (
	_ domain.ToolTransport = (*MCPClient)(nil)
	_ domain.ToolLister    = (*MCPClient)(nil)
	_ domain.ServerPinger  = (*MCPClient)(nil)
)
