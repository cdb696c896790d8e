package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

type mockChatModel struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
	boundTools   []*schema.ToolInfo
	seen         [][]*schema.Message
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.seen = append(m.seen, messages)
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

func (m *mockChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *mockChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.boundTools = tools
	return nil
}

func (m *mockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boundTools = tools
	return m, nil
}

func (m *mockChatModel) lastMessages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[len(m.seen)-1]
}

type recordingMetrics struct {
	telemetry.NoopMetrics
	latencies int
	tokens    int
}

func (m *recordingMetrics) ObserveModelLatency(string, string, time.Duration, error) {
	m.latencies++
}

func (m *recordingMetrics) ObserveModelTokens(_ string, _ string, tokens int) {
	m.tokens += tokens
}

func newTestCapability(t *testing.T, chat *mockChatModel, metrics domain.Metrics) (*Capability, *int) {
	t.Helper()
	builds := 0
	capability, err := New(Options{
		Config: domain.ModelConfig{Model: "test-model", SystemPrompt: "be brief"},
		Factory: func(_ context.Context, _ domain.ModelConfig, apiKey string) (model.ToolCallingChatModel, error) {
			builds++
			return chat, nil
		},
		Metrics: metrics,
	})
	require.NoError(t, err)
	return capability, &builds
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := New(Options{Config: domain.ModelConfig{Provider: "carrier-pigeon"}})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidArgument, code)
}

func TestComplete_DirectAnswer(t *testing.T) {
	chat := &mockChatModel{
		generateFunc: func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
			return &schema.Message{
				Role:    schema.Assistant,
				Content: "hello there",
				ResponseMeta: &schema.ResponseMeta{
					Usage: &schema.TokenUsage{TotalTokens: 42},
				},
			}, nil
		},
	}
	metrics := &recordingMetrics{}
	capability, _ := newTestCapability(t, chat, metrics)

	resp, err := capability.Complete(context.Background(), "gsk_abc", domain.ModelRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	answer, ok := resp.(domain.DirectAnswer)
	require.True(t, ok)
	assert.Equal(t, "hello there", answer.Text)
	assert.Equal(t, 1, metrics.latencies)
	assert.Equal(t, 42, metrics.tokens)

	messages := chat.lastMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, schema.System, messages[0].Role)
	assert.Equal(t, "be brief", messages[0].Content)
	assert.Equal(t, schema.User, messages[1].Role)
	assert.Nil(t, chat.boundTools)
}

func TestComplete_ToolCallRequest(t *testing.T) {
	chat := &mockChatModel{
		generateFunc: func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
			return &schema.Message{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "abc", Function: schema.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`}},
					{Function: schema.FunctionCall{Name: "scrape"}},
				},
			}, nil
		},
	}
	capability, _ := newTestCapability(t, chat, nil)

	resp, err := capability.Complete(context.Background(), "gsk_abc", domain.ModelRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "search go"}},
		Tools: []domain.ToolSpec{{
			Name:        "web_search",
			Description: "Search the web",
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"query"},
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "terms"},
					"limit": map[string]any{"type": "integer"},
				},
			},
			ServerID: "firecrawl",
		}},
	})
	require.NoError(t, err)

	request, ok := resp.(domain.ToolCallRequest)
	require.True(t, ok)
	require.Len(t, request.Calls, 2)
	assert.Equal(t, "abc", request.Calls[0].ID)
	assert.JSONEq(t, `{"query":"go"}`, string(request.Calls[0].Arguments))
	assert.Equal(t, "call_2", request.Calls[1].ID)
	assert.Nil(t, request.Calls[1].Arguments)

	require.Len(t, chat.boundTools, 1)
	assert.Equal(t, "web_search", chat.boundTools[0].Name)
	assert.Equal(t, "Search the web", chat.boundTools[0].Desc)
	assert.NotNil(t, chat.boundTools[0].ParamsOneOf)
}

func TestComplete_ConvertsToolConversation(t *testing.T) {
	chat := &mockChatModel{
		generateFunc: func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
			return &schema.Message{Role: schema.Assistant, Content: "done"}, nil
		},
	}
	capability, _ := newTestCapability(t, chat, nil)

	_, err := capability.Complete(context.Background(), "gsk_abc", domain.ModelRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "search"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolInvocation{{ID: "c1", ToolName: "web_search"}}},
			{Role: domain.RoleTool, Content: "results", ToolCallID: "c1", ToolName: "web_search"},
		},
	})
	require.NoError(t, err)

	messages := chat.lastMessages()
	require.Len(t, messages, 4)
	assistant := messages[2]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "c1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "{}", assistant.ToolCalls[0].Function.Arguments)

	tool := messages[3]
	assert.Equal(t, schema.Tool, tool.Role)
	assert.Equal(t, "c1", tool.ToolCallID)
	assert.Equal(t, "results", tool.Content)
}

func TestComplete_ReusesModelUntilCredentialChanges(t *testing.T) {
	chat := &mockChatModel{
		generateFunc: func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
			return &schema.Message{Role: schema.Assistant, Content: "ok"}, nil
		},
	}
	capability, builds := newTestCapability(t, chat, nil)
	req := domain.ModelRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}

	_, err := capability.Complete(context.Background(), "gsk_one", req)
	require.NoError(t, err)
	_, err = capability.Complete(context.Background(), "gsk_one", req)
	require.NoError(t, err)
	assert.Equal(t, 1, *builds)

	_, err = capability.Complete(context.Background(), "gsk_two", req)
	require.NoError(t, err)
	assert.Equal(t, 2, *builds)
}

func TestComplete_Errors(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		capability, builds := newTestCapability(t, &mockChatModel{}, nil)
		_, err := capability.Complete(context.Background(), " ", domain.ModelRequest{})
		code, _ := domain.CodeFrom(err)
		assert.Equal(t, domain.CodeMissingCredential, code)
		assert.Zero(t, *builds)
	})

	t.Run("generate failure", func(t *testing.T) {
		chat := &mockChatModel{
			generateFunc: func(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
				return nil, errors.New("502 bad gateway")
			},
		}
		capability, _ := newTestCapability(t, chat, nil)
		_, err := capability.Complete(context.Background(), "gsk_abc", domain.ModelRequest{})
		code, _ := domain.CodeFrom(err)
		assert.Equal(t, domain.CodeTransportFault, code)
		assert.Contains(t, err.Error(), "502 bad gateway")
	})

	t.Run("deadline", func(t *testing.T) {
		chat := &mockChatModel{
			generateFunc: func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		capability, _ := newTestCapability(t, chat, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := capability.Complete(ctx, "gsk_abc", domain.ModelRequest{})
		code, _ := domain.CodeFrom(err)
		assert.Equal(t, domain.CodeTimeout, code)
	})
}

func TestObjectParams(t *testing.T) {
	params := objectParams(map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"formats": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"markdown", "html"}}},
			"options": map[string]any{"type": "object", "properties": map[string]any{"depth": map[string]any{"type": []any{"null", "integer"}}}},
		},
	})

	require.Len(t, params, 3)
	assert.True(t, params["url"].Required)
	assert.Equal(t, schema.String, params["url"].Type)
	assert.False(t, params["formats"].Required)
	assert.Equal(t, schema.Array, params["formats"].Type)
	require.NotNil(t, params["formats"].ElemInfo)
	assert.Equal(t, []string{"markdown", "html"}, params["formats"].ElemInfo.Enum)
	require.Contains(t, params["options"].SubParams, "depth")
	assert.Equal(t, schema.Integer, params["options"].SubParams["depth"].Type)
}
