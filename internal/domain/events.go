package domain

import "time"

// StageEvent reports a status transition of a stage or, when StageID is empty, of the run itself.
type StageEvent struct {
	RunID     string      `json:"runId"`
	Flow      string      `json:"flow,omitempty"`
	StageID   string      `json:"stageId,omitempty"`
	Status    StageStatus `json:"status,omitempty"`
	RunStatus RunStatus   `json:"runStatus"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

// IsRunEvent reports whether the event describes a run-level transition.
func (e StageEvent) IsRunEvent() bool {
	return e.StageID == ""
}

// StageEventEmitter receives status transitions. Implementations must not block.
type StageEventEmitter interface {
	EmitStageEvent(event StageEvent)
}
