package domain

import "time"

// ToolCallOutcome labels how a single tool invocation ended.
type ToolCallOutcome string

const (
	ToolOutcomeSuccess     ToolCallOutcome = "success"
	ToolOutcomeToolError   ToolCallOutcome = "tool_error"
	ToolOutcomeUnavailable ToolCallOutcome = "unavailable"
	ToolOutcomeInvalidArgs ToolCallOutcome = "invalid_arguments"
	ToolOutcomeFault       ToolCallOutcome = "transport_fault"
	ToolOutcomeDenied      ToolCallOutcome = "denied"
	ToolOutcomeTimeout     ToolCallOutcome = "timeout"
)

// RunMetric captures the outcome of a finished run.
type RunMetric struct {
	Flow        string
	Status      RunStatus
	FailureCode ErrorCode
	Duration    time.Duration
}

// StageMetric captures the time spent in one stage.
type StageMetric struct {
	Flow     string
	Kind     StageKind
	Status   StageStatus
	Duration time.Duration
}

// ToolCallMetric captures one tool invocation.
type ToolCallMetric struct {
	ServerID string
	Tool     string
	Outcome  ToolCallOutcome
	Duration time.Duration
}

// Metrics records operational metrics for runs, stages, tools and model calls.
type Metrics interface {
	ObserveRun(metric RunMetric)
	ObserveStage(metric StageMetric)
	ObserveToolCall(metric ToolCallMetric)
	ObserveApprovalWait(verdict ApprovalVerdict, duration time.Duration)
	ObserveModelLatency(provider string, model string, duration time.Duration, err error)
	ObserveModelTokens(provider string, model string, tokens int)
	SetEnabledServers(count int)
	SetServerStatus(serverID string, status ServerStatus)
}
