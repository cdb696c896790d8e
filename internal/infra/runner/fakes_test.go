package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
	"agentflow/internal/infra/credential"
	"agentflow/internal/infra/graph"
	"agentflow/internal/infra/registry"
	"agentflow/internal/infra/toolset"
)

const validKey = "gsk_testkey123"

type completeFunc func(ctx context.Context, req domain.ModelRequest) (domain.ModelResponse, error)

// scriptedModel answers each Complete call with the next scripted step.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []completeFunc
	requests []domain.ModelRequest
}

func newScriptedModel(steps ...completeFunc) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Complete(ctx context.Context, _ string, req domain.ModelRequest) (domain.ModelResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if idx >= len(m.steps) {
		return nil, errors.New("unexpected model call")
	}
	return m.steps[idx](ctx, req)
}

func (m *scriptedModel) calls() []domain.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ModelRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func answer(text string) completeFunc {
	return func(context.Context, domain.ModelRequest) (domain.ModelResponse, error) {
		return domain.DirectAnswer{Text: text}, nil
	}
}

func requestTools(calls ...domain.ToolInvocation) completeFunc {
	return func(context.Context, domain.ModelRequest) (domain.ModelResponse, error) {
		return domain.ToolCallRequest{Calls: calls}, nil
	}
}

func invocation(id, tool, args string) domain.ToolInvocation {
	return domain.ToolInvocation{ID: id, ToolName: tool, Arguments: json.RawMessage(args)}
}

type invokeCall struct {
	ServerID string
	Tool     string
	Args     string
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  []invokeCall
	invoke func(ctx context.Context, server domain.ToolServer, tool string) (domain.ToolResult, error)
}

func (f *fakeTransport) Invoke(ctx context.Context, server domain.ToolServer, toolName string, args json.RawMessage) (domain.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invokeCall{ServerID: server.ID, Tool: toolName, Args: string(args)})
	f.mu.Unlock()
	if f.invoke != nil {
		return f.invoke(ctx, server, toolName)
	}
	return domain.ToolResult{ToolName: toolName, ServerID: server.ID, Content: "result of " + toolName}, nil
}

func (f *fakeTransport) invocations() []invokeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invokeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type staticTools struct {
	specs []domain.ToolSpec
}

func (s staticTools) Build(context.Context) *toolset.Toolset {
	return toolset.Static(s.specs...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.StageEvent
}

func (r *recordingEmitter) EmitStageEvent(event domain.StageEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// statuses returns the stage statuses emitted for stageID, in order.
func (r *recordingEmitter) statuses(stageID string) []domain.StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StageStatus
	for _, event := range r.events {
		if event.StageID == stageID {
			out = append(out, event.Status)
		}
	}
	return out
}

func (r *recordingEmitter) runStatuses() []domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RunStatus
	for _, event := range r.events {
		if event.IsRunEvent() {
			out = append(out, event.RunStatus)
		}
	}
	return out
}

type recordingStore struct {
	mu      sync.Mutex
	records []domain.RunRecord
}

func (s *recordingStore) Record(record domain.RunRecord) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) all() []domain.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RunRecord(nil), s.records...)
}

type verdictApprover struct {
	verdict  domain.ApprovalVerdict
	mu       sync.Mutex
	requests []domain.ApprovalRequest
}

func (a *verdictApprover) Await(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalVerdict, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	if a.verdict == "" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return a.verdict, nil
}

var webSearchSpec = domain.ToolSpec{
	Name:        "web_search",
	Description: "Search the web",
	Schema: map[string]any{
		"type":       "object",
		"required":   []any{"query"},
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	},
	ServerID: "search",
}

func searchServer(enabled bool, policy domain.ApprovalPolicy) domain.ToolServerConfig {
	return domain.ToolServerConfig{
		ID:       "search",
		Label:    "Search",
		Endpoint: "https://search.example.com/mcp",
		Enabled:  enabled,
		Approval: policy,
	}
}

type harness struct {
	gate      *credential.Gate
	registry  *registry.Registry
	model     *scriptedModel
	transport *fakeTransport
	events    *recordingEmitter
	store     *recordingStore
	approver  domain.Approver
	tools     ToolsetBuilder
	graph     *graph.Graph
	opts      Options
}

func newHarness(t *testing.T, servers ...domain.ToolServerConfig) *harness {
	t.Helper()
	gate, err := credential.NewGate(credential.Options{})
	require.NoError(t, err)
	require.True(t, gate.Set(validKey).Success)

	reg, err := registry.New(registry.Options{Servers: servers, Enabled: true})
	require.NoError(t, err)

	return &harness{
		gate:      gate,
		registry:  reg,
		model:     newScriptedModel(),
		transport: &fakeTransport{},
		events:    &recordingEmitter{},
		store:     &recordingStore{},
		tools:     staticTools{specs: []domain.ToolSpec{webSearchSpec}},
		graph:     graph.ChatFlow(),
	}
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := New(Deps{
		Graph:       h.graph,
		Credentials: h.gate,
		Servers:     h.registry,
		Tools:       h.tools,
		Model:       h.model,
		Transport:   h.transport,
		Approver:    h.approver,
		Events:      h.events,
		Recorder:    h.store,
	}, h.opts)
	require.NoError(t, err)
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

type approverFunc func(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalVerdict, error)

func (f approverFunc) Await(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalVerdict, error) {
	return f(ctx, req)
}
