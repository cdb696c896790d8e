package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"agentflow/internal/domain"
	"agentflow/internal/infra/registry"
)

type fakeLister struct {
	listFunc func(ctx context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error)
}

func (f *fakeLister) ListTools(ctx context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error) {
	return f.listFunc(ctx, server)
}

var searchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
		"limit": map[string]any{"type": "integer"},
	},
	"required": []any{"query"},
}

func newRegistry(t *testing.T, servers ...domain.ToolServerConfig) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Options{Servers: servers, Enabled: true})
	require.NoError(t, err)
	return reg
}

func TestBuilder_FiltersAllowListAndDeduplicates(t *testing.T) {
	reg := newRegistry(t,
		domain.ToolServerConfig{ID: "tavily", Endpoint: "https://tavily.example", Enabled: true, AllowedTools: []string{"web_search"}},
		domain.ToolServerConfig{ID: "other", Endpoint: "https://other.example", Enabled: true},
		domain.ToolServerConfig{ID: "off", Endpoint: "https://off.example", Enabled: false},
	)
	var mu sync.Mutex
	var listed []string
	builder := NewBuilder(Options{
		Servers: reg,
		Lister: &fakeLister{listFunc: func(_ context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error) {
			mu.Lock()
			listed = append(listed, server.ID)
			mu.Unlock()
			switch server.ID {
			case "tavily":
				return []domain.ToolDefinition{
					{Name: "web_search", Description: "search", InputSchema: searchSchema},
					{Name: "crawl"},
				}, nil
			default:
				return []domain.ToolDefinition{{Name: "web_search", Title: "Other search"}, {Name: "scrape"}}, nil
			}
		}},
	})

	set := builder.Build(context.Background())
	require.Equal(t, 2, set.Len())
	assert.ElementsMatch(t, []string{"tavily", "other"}, listed)

	spec, ok := set.Lookup("web_search")
	require.True(t, ok)
	assert.Equal(t, "tavily", spec.ServerID)
	_, ok = set.Lookup("crawl")
	assert.False(t, ok)
	spec, ok = set.Lookup("scrape")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "object"}, spec.Schema)

	server, _ := reg.Get("tavily")
	assert.Equal(t, domain.ServerStatusConnected, server.Status)
}

func TestBuilder_FailedServerIsSkippedAndMarked(t *testing.T) {
	reg := newRegistry(t,
		domain.ToolServerConfig{ID: "down", Endpoint: "https://down.example", Enabled: true},
		domain.ToolServerConfig{ID: "up", Endpoint: "https://up.example", Enabled: true},
	)
	builder := NewBuilder(Options{
		Servers: reg,
		Timeout: 50 * time.Millisecond,
		Lister: &fakeLister{listFunc: func(ctx context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error) {
			if server.ID == "down" {
				<-ctx.Done()
				return nil, errors.New("dial timeout")
			}
			return []domain.ToolDefinition{{Name: "echo"}}, nil
		}},
	})

	set := builder.Build(context.Background())
	require.Equal(t, 1, set.Len())
	down, _ := reg.Get("down")
	assert.Equal(t, domain.ServerStatusError, down.Status)
	assert.Equal(t, "dial timeout", down.LastError)
}

func TestBuilder_ServerRemovedDuringDiscovery(t *testing.T) {
	reg := newRegistry(t, domain.ToolServerConfig{ID: "gone", Endpoint: "https://gone.example", Enabled: true})
	core, logs := observer.New(zapcore.DebugLevel)
	builder := NewBuilder(Options{
		Servers: reg,
		Logger:  zap.New(core),
		Lister: &fakeLister{listFunc: func(_ context.Context, server domain.ToolServer) ([]domain.ToolDefinition, error) {
			require.NoError(t, reg.RemoveServer(server.ID))
			return []domain.ToolDefinition{{Name: "echo"}}, nil
		}},
	})

	set := builder.Build(context.Background())
	assert.Equal(t, 0, set.Len())
	entries := logs.FilterMessage("report server status failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "gone", entries[0].ContextMap()["server"])
}

func TestBuilder_MasterSwitchOffOffersNothing(t *testing.T) {
	reg := newRegistry(t, domain.ToolServerConfig{ID: "a", Endpoint: "https://a.example", Enabled: true})
	reg.SetEnabled(false)
	called := false
	builder := NewBuilder(Options{Servers: reg, Lister: &fakeLister{listFunc: func(context.Context, domain.ToolServer) ([]domain.ToolDefinition, error) {
		called = true
		return nil, nil
	}}})

	require.Equal(t, 0, builder.Build(context.Background()).Len())
	require.False(t, called)
}

func TestToolset_ValidateArguments(t *testing.T) {
	set := Static(
		domain.ToolSpec{Name: "web_search", Schema: searchSchema, ServerID: "tavily"},
		domain.ToolSpec{Name: "free", ServerID: "x"},
	)

	require.NoError(t, set.ValidateArguments("web_search", json.RawMessage(`{"query":"go","limit":3}`)))

	err := set.ValidateArguments("web_search", json.RawMessage(`{"limit":3}`))
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeInvalidArgument, code)

	err = set.ValidateArguments("web_search", json.RawMessage(`{"query":"go","limit":"three"}`))
	code, _ = domain.CodeFrom(err)
	require.Equal(t, domain.CodeInvalidArgument, code)

	err = set.ValidateArguments("web_search", json.RawMessage(`not json`))
	code, _ = domain.CodeFrom(err)
	require.Equal(t, domain.CodeInvalidArgument, code)

	require.NoError(t, set.ValidateArguments("free", nil))
	require.Error(t, set.ValidateArguments("free", json.RawMessage(`[1,2]`)))

	err = set.ValidateArguments("missing", nil)
	require.True(t, errors.Is(err, domain.ErrToolNotOffered))
}

func TestToolset_NilIsEmpty(t *testing.T) {
	var set *Toolset
	require.Equal(t, 0, set.Len())
	require.Nil(t, set.Specs())
	_, ok := set.Lookup("x")
	require.False(t, ok)
}
