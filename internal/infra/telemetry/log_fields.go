package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldRunID      = "run_id"
	FieldFlow       = "flow"
	FieldStage      = "stage"
	FieldServerID   = "server"
	FieldTool       = "tool"
	FieldCallID     = "call_id"
	FieldCode       = "code"
	FieldDurationMs = "duration_ms"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventRunStart       = "run_start"
	EventRunFinish      = "run_finish"
	EventStageEnter     = "stage_enter"
	EventStageFailure   = "stage_failure"
	EventToolDispatch   = "tool_dispatch"
	EventToolFailure    = "tool_failure"
	EventApprovalWait   = "approval_wait"
	EventStaleDiscarded = "stale_discarded"
	EventPingFailure    = "ping_failure"
	EventConfigReload   = "config_reload"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func RunIDField(runID string) zap.Field {
	return zap.String(FieldRunID, runID)
}

func FlowField(flow string) zap.Field {
	return zap.String(FieldFlow, flow)
}

func StageField(stageID string) zap.Field {
	return zap.String(FieldStage, stageID)
}

func ServerIDField(serverID string) zap.Field {
	return zap.String(FieldServerID, serverID)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func CallIDField(callID string) zap.Field {
	return zap.String(FieldCallID, callID)
}

func CodeField(code string) zap.Field {
	return zap.String(FieldCode, code)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
