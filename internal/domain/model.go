package domain

import (
	"context"
	"encoding/json"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one entry of the model conversation for a single turn.
type Message struct {
	Role       MessageRole      `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"toolCalls,omitempty"`
	ToolCallID string           `json:"toolCallId,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
}

// ToolSpec describes a tool offered to the model for a turn.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	ServerID    string         `json:"serverId"`
}

// ToolDefinition is a tool as advertised by a tool server.
type ToolDefinition struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ToolInvocation is a single tool call requested by the model.
type ToolInvocation struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ModelRequest is the input of a model completion.
type ModelRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// ModelResponse is either a DirectAnswer or a ToolCallRequest.
type ModelResponse interface {
	isModelResponse()
}

// DirectAnswer is a final model response with no tool calls.
type DirectAnswer struct {
	Text string
}

// ToolCallRequest asks the runner to invoke tools before answering.
type ToolCallRequest struct {
	Text  string
	Calls []ToolInvocation
}

func (DirectAnswer) isModelResponse()    {}
func (ToolCallRequest) isModelResponse() {}

// ModelCapability completes a conversation, optionally offering tools.
type ModelCapability interface {
	Complete(ctx context.Context, credential string, req ModelRequest) (ModelResponse, error)
}

// ToolResult is the outcome of one tool invocation, successful or not.
type ToolResult struct {
	CallID   string    `json:"callId"`
	ToolName string    `json:"toolName"`
	ServerID string    `json:"serverId,omitempty"`
	Content  string    `json:"content"`
	IsError  bool      `json:"isError"`
	Code     ErrorCode `json:"code,omitempty"`
}

// ToolTransport invokes tools on a remote server.
type ToolTransport interface {
	Invoke(ctx context.Context, server ToolServer, toolName string, args json.RawMessage) (ToolResult, error)
}

// ToolLister discovers the tools a server exposes.
type ToolLister interface {
	ListTools(ctx context.Context, server ToolServer) ([]ToolDefinition, error)
}

// ServerPinger checks that a server is reachable.
type ServerPinger interface {
	Ping(ctx context.Context, server ToolServer) error
}

// ApprovalVerdict is the external decision for a gated tool call.
type ApprovalVerdict string

const (
	VerdictApprove ApprovalVerdict = "approve"
	VerdictDeny    ApprovalVerdict = "deny"
)

// ApprovalRequest identifies a gated tool call awaiting a verdict.
type ApprovalRequest struct {
	CallID    string          `json:"callId"`
	RunID     string          `json:"runId"`
	ServerID  string          `json:"serverId"`
	Server    string          `json:"server"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Approver delivers approval verdicts for gated tool calls.
type Approver interface {
	Await(ctx context.Context, req ApprovalRequest) (ApprovalVerdict, error)
}
