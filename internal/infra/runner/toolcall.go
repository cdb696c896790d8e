package runner

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

// runTools executes one round of tool invocations and appends the results to
// the conversation. Per-call failures become error results for the model;
// denial, timeout and cancellation end the stage.
func (e *execution) runTools(stage domain.Stage, request domain.ToolCallRequest) error {
	e.rounds++
	e.messages = append(e.messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   request.Text,
		ToolCalls: request.Calls,
	})
	for _, call := range request.Calls {
		result, err := e.invoke(stage, call)
		if err != nil {
			return err
		}
		if err := e.run.update(e.gen, func() { e.run.toolCalls = append(e.run.toolCalls, result) }); err != nil {
			return err
		}
		e.messages = append(e.messages, domain.Message{
			Role:       domain.RoleTool,
			Content:    toolMessage(result),
			ToolCallID: call.ID,
			ToolName:   call.ToolName,
		})
	}
	return nil
}

func (e *execution) invoke(stage domain.Stage, call domain.ToolInvocation) (domain.ToolResult, error) {
	started := e.runner.now()
	result := domain.ToolResult{CallID: call.ID, ToolName: call.ToolName}
	logger := e.logger.With(telemetry.StageField(stage.ID), telemetry.ToolField(call.ToolName), telemetry.CallIDField(call.ID))

	spec, ok := e.tools.Lookup(call.ToolName)
	if !ok {
		return e.localFailure(result, domain.CodeToolUnavailable, domain.ToolOutcomeUnavailable, fmt.Sprintf("tool %q is not available", call.ToolName), started), nil
	}
	result.ServerID = spec.ServerID
	logger = logger.With(telemetry.ServerIDField(spec.ServerID))

	server, ok := e.enabledServer(spec.ServerID)
	if !ok {
		logger.Info("tool server not enabled at dispatch", telemetry.EventField(telemetry.EventToolFailure))
		return e.localFailure(result, domain.CodeToolUnavailable, domain.ToolOutcomeUnavailable, fmt.Sprintf("tool server %q is not enabled", spec.ServerID), started), nil
	}

	decision := e.runner.servers.ResolveApproval(server.ID, call.ToolName)
	if decision == domain.ApprovalUnavailable {
		return e.localFailure(result, domain.CodeToolUnavailable, domain.ToolOutcomeUnavailable, fmt.Sprintf("tool %q is not offered by server %q", call.ToolName, server.Label), started), nil
	}
	if err := e.tools.ValidateArguments(call.ToolName, call.Arguments); err != nil {
		return e.localFailure(result, domain.CodeInvalidArgument, domain.ToolOutcomeInvalidArgs, failureMessage(err), started), nil
	}
	if decision == domain.ApprovalRequired {
		if err := e.awaitApproval(stage, server, call, logger); err != nil {
			e.observeTool(server.ID, call.ToolName, outcomeFor(err), started)
			return result, err
		}
		// The wait may be long; the registry decides again before dispatch.
		server, ok = e.enabledServer(spec.ServerID)
		if !ok {
			logger.Info("tool server disabled during approval", telemetry.EventField(telemetry.EventToolFailure))
			return e.localFailure(result, domain.CodeToolUnavailable, domain.ToolOutcomeUnavailable, fmt.Sprintf("tool server %q is not enabled", spec.ServerID), started), nil
		}
	}

	if err := e.run.setStage(e.gen, stage.ID, domain.StageProcessing); err != nil {
		return result, err
	}
	logger.Debug("dispatching tool call", telemetry.EventField(telemetry.EventToolDispatch))
	callCtx, cancel := withTimeout(e.ctx, e.runner.opts.ToolTimeout)
	out, err := e.runner.transport.Invoke(callCtx, server, call.ToolName, call.Arguments)
	if err != nil {
		classified := e.classify(callCtx, "runner.tool_call", domain.CodeTransportFault, err)
		cancel()
		if code, _ := domain.CodeFrom(classified); code == domain.CodeTimeout || code == domain.CodeCanceled {
			e.observeTool(server.ID, call.ToolName, outcomeFor(classified), started)
			return result, classified
		}
		if err := e.run.check(e.gen); err != nil {
			return result, err
		}
		logger.Warn("tool call failed", telemetry.EventField(telemetry.EventToolFailure), zap.Error(err))
		if reportErr := e.runner.servers.ReportStatus(server.ID, domain.ServerStatusError, err.Error()); reportErr != nil {
			logger.Debug("report server status failed", zap.Error(reportErr))
		}
		return e.localFailure(result, domain.CodeTransportFault, domain.ToolOutcomeFault, failureMessage(classified), started), nil
	}
	cancel()
	if err := e.run.check(e.gen); err != nil {
		return result, err
	}

	result.Content = out.Content
	result.IsError = out.IsError
	outcome := domain.ToolOutcomeSuccess
	if out.IsError {
		outcome = domain.ToolOutcomeToolError
	}
	e.observeTool(server.ID, call.ToolName, outcome, started)
	return result, nil
}

func (e *execution) awaitApproval(stage domain.Stage, server domain.ToolServer, call domain.ToolInvocation, logger *zap.Logger) error {
	if e.runner.approver == nil {
		return domain.E(domain.CodeApprovalDenied, "runner.approval", fmt.Sprintf("tool %q on server %q requires approval and no approval channel is configured", call.ToolName, server.Label), nil)
	}
	if err := e.run.setStage(e.gen, stage.ID, domain.StageProcessing); err != nil {
		return err
	}

	runID, _ := telemetry.RunIDFromContext(e.ctx)
	req := domain.ApprovalRequest{
		CallID:    uuid.NewString(),
		RunID:     runID,
		ServerID:  server.ID,
		Server:    server.Label,
		ToolName:  call.ToolName,
		Arguments: call.Arguments,
	}
	logger.Info("awaiting tool approval", telemetry.EventField(telemetry.EventApprovalWait), zap.String("approval_id", req.CallID))

	callCtx, cancel := withTimeout(e.ctx, e.runner.opts.ApprovalTimeout)
	defer cancel()
	verdict, err := e.runner.approver.Await(callCtx, req)
	if err != nil {
		return e.classify(callCtx, "runner.approval", domain.CodeInternal, err)
	}
	if err := e.run.check(e.gen); err != nil {
		return err
	}
	if verdict != domain.VerdictApprove {
		return domain.E(domain.CodeApprovalDenied, "runner.approval", fmt.Sprintf("approval denied for tool %q on server %q", call.ToolName, server.Label), nil)
	}
	return nil
}

// enabledServer resolves the owning server against the registry at dispatch
// time, so a server disabled after discovery is never contacted.
func (e *execution) enabledServer(id string) (domain.ToolServer, bool) {
	for _, server := range e.runner.servers.ListEnabled() {
		if server.ID == id {
			return server, true
		}
	}
	return domain.ToolServer{}, false
}

func (e *execution) localFailure(result domain.ToolResult, code domain.ErrorCode, outcome domain.ToolCallOutcome, msg string, started time.Time) domain.ToolResult {
	result.IsError = true
	result.Code = code
	result.Content = msg
	e.observeTool(result.ServerID, result.ToolName, outcome, started)
	return result
}

func (e *execution) observeTool(serverID, tool string, outcome domain.ToolCallOutcome, started time.Time) {
	if e.runner.metrics == nil {
		return
	}
	e.runner.metrics.ObserveToolCall(domain.ToolCallMetric{
		ServerID: serverID,
		Tool:     tool,
		Outcome:  outcome,
		Duration: e.runner.now().Sub(started),
	})
}

func outcomeFor(err error) domain.ToolCallOutcome {
	code, _ := domain.CodeFrom(err)
	switch code {
	case domain.CodeApprovalDenied:
		return domain.ToolOutcomeDenied
	case domain.CodeTimeout:
		return domain.ToolOutcomeTimeout
	default:
		return domain.ToolOutcomeFault
	}
}

func toolMessage(result domain.ToolResult) string {
	if !result.IsError || result.Code == "" {
		return result.Content
	}
	return fmt.Sprintf("error (%s): %s", result.Code, result.Content)
}
