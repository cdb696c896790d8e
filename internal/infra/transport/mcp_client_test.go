package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
)

func newToolServer(t *testing.T, sawAuth *atomic.Bool) *httptest.Server {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "remote", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	server.AddTool(&mcp.Tool{
		Name:        "web_search",
		Description: "search the web",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "results for " + args.Query}}}, nil
	})
	server.AddTool(&mcp.Tool{
		Name:        "broken",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "quota exceeded"}}}, nil
	})

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawAuth != nil && r.Header.Get("Authorization") == "Bearer token" {
			sawAuth.Store(true)
		}
		streamable.ServeHTTP(w, r)
	}))
	t.Cleanup(httpServer.Close)
	return httpServer
}

func TestMCPClient_ListInvokePing(t *testing.T) {
	var sawAuth atomic.Bool
	httpServer := newToolServer(t, &sawAuth)
	client := NewMCPClient(MCPClientOptions{MaxRetries: 1})
	t.Cleanup(func() { _ = client.Close() })

	server := domain.ToolServer{ID: "search", Endpoint: httpServer.URL, Authorization: "Bearer token"}
	ctx := context.Background()

	tools, err := client.ListTools(ctx, server)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	result, err := client.Invoke(ctx, server, "web_search", json.RawMessage(`{"query":"golang"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "results for golang", result.Content)
	require.Equal(t, "search", result.ServerID)

	result, err = client.Invoke(ctx, server, "broken", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, "quota exceeded", result.Content)

	require.NoError(t, client.Ping(ctx, server))
	require.True(t, sawAuth.Load())
}

func TestMCPClient_UnreachableServerIsTransportFault(t *testing.T) {
	httpServer := newToolServer(t, nil)
	httpServer.Close()

	client := NewMCPClient(MCPClientOptions{MaxRetries: -1})
	_, err := client.Invoke(context.Background(), domain.ToolServer{ID: "gone", Endpoint: httpServer.URL}, "web_search", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeTransportFault, code)
}

func TestMCPClient_InvalidArguments(t *testing.T) {
	client := NewMCPClient(MCPClientOptions{})
	_, err := client.Invoke(context.Background(), domain.ToolServer{ID: "a", Endpoint: "http://127.0.0.1:1"}, "x", json.RawMessage(`[1]`))
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeInvalidArgument, code)
}
