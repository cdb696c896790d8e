package domain

import "time"

// StageKind classifies what a stage does when entered.
type StageKind string

const (
	StageInput     StageKind = "input"
	StageTransform StageKind = "transform"
	StageDecision  StageKind = "decision"
	StageModelCall StageKind = "model_call"
	StageToolCall  StageKind = "tool_call"
	StageOutput    StageKind = "output"
)

// Valid reports whether the kind is known.
func (k StageKind) Valid() bool {
	switch k {
	case StageInput, StageTransform, StageDecision, StageModelCall, StageToolCall, StageOutput:
		return true
	default:
		return false
	}
}

// EdgeCondition tags a conditional edge. The empty condition is unconditional.
type EdgeCondition string

const (
	EdgeUnconditional EdgeCondition = ""
	EdgeToolsNeeded   EdgeCondition = "tools-needed"
	EdgeNoTools       EdgeCondition = "no-tools"
)

// Stage is a node of the pipeline graph.
type Stage struct {
	ID                 string    `json:"id"`
	Kind               StageKind `json:"kind"`
	Label              string    `json:"label,omitempty"`
	RequiresCredential bool      `json:"requiresCredential"`
}

// Edge is a directed transition between two stages.
type Edge struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Condition EdgeCondition `json:"condition,omitempty"`
}

// StageStatus is the per-run lifecycle of a stage.
type StageStatus string

const (
	StageIdle       StageStatus = "idle"
	StageActive     StageStatus = "active"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Terminal reports whether the stage has finished.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// RunStatus is the lifecycle of one traversal of the graph.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunFailure describes why a run or stage failed.
type RunFailure struct {
	Code    ErrorCode `json:"code"`
	StageID string    `json:"stageId,omitempty"`
	Message string    `json:"message"`
}

// RunSnapshot is a point-in-time copy of a run's state.
type RunSnapshot struct {
	RunID     string                 `json:"runId"`
	Flow      string                 `json:"flow"`
	Status    RunStatus              `json:"status"`
	Stages    map[string]StageStatus `json:"stages"`
	Path      []string               `json:"path"`
	Edges     []string               `json:"edges"`
	ToolCalls []ToolResult           `json:"toolCalls,omitempty"`
	Answer    string                 `json:"answer,omitempty"`
	Failure   *RunFailure            `json:"failure,omitempty"`
	StartedAt time.Time              `json:"startedAt,omitempty"`
	EndedAt   time.Time              `json:"endedAt,omitempty"`
}

// RunRecord is the durable summary of a finished run. It never holds prompt or answer text.
type RunRecord struct {
	ID             string    `json:"id"`
	Flow           string    `json:"flow"`
	Status         RunStatus `json:"status"`
	FailureCode    ErrorCode `json:"failureCode,omitempty"`
	FailureStage   string    `json:"failureStage,omitempty"`
	FailureMessage string    `json:"failureMessage,omitempty"`
	Path           []string  `json:"path"`
	Edges          []string  `json:"edges"`
	ToolCalls      int       `json:"toolCalls"`
	ToolFailures   int       `json:"toolFailures"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// RunRecorder persists run summaries once a run terminates.
type RunRecorder interface {
	Record(record RunRecord) error
}
