package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
	"agentflow/internal/infra/toolset"
)

// execution is the state of one traversal. It is owned by the goroutine that
// called Execute; shared run state is only touched through Run.update.
type execution struct {
	run    *Run
	runner *Runner
	gen    uint64
	ctx    context.Context
	logger *zap.Logger

	text     string
	messages []domain.Message
	tools    *toolset.Toolset
	last     domain.ModelResponse
	rounds   int
}

func (e *execution) traverse() error {
	g := e.runner.graph
	stage := g.Entry()
	for {
		cond, err := e.enter(stage)
		if err != nil {
			return err
		}
		if stage.Kind == domain.StageOutput {
			return nil
		}
		edge, ok := g.Next(stage.ID, cond)
		if !ok {
			return domain.E(domain.CodeInternal, "runner.traverse", fmt.Sprintf("stage %q has no edge for condition %q", stage.ID, cond), nil)
		}
		if err := e.run.update(e.gen, func() { e.run.edges = append(e.run.edges, edge.ID) }); err != nil {
			return err
		}
		stage, _ = g.Stage(edge.To)
	}
}

func (e *execution) enter(stage domain.Stage) (domain.EdgeCondition, error) {
	if err := e.run.enterStage(e.gen, stage.ID); err != nil {
		return "", err
	}
	e.logger.Debug("stage entered", telemetry.EventField(telemetry.EventStageEnter), telemetry.StageField(stage.ID), zap.String("kind", string(stage.Kind)))

	if stage.RequiresCredential && !e.runner.credentials.IsReady() {
		return "", domain.E(domain.CodeMissingCredential, "runner.stage", fmt.Sprintf("credential required by stage %q is not set", stage.ID), nil)
	}

	var (
		cond domain.EdgeCondition
		err  error
	)
	switch stage.Kind {
	case domain.StageInput:
	case domain.StageTransform:
		err = e.transform(stage)
	case domain.StageModelCall:
		err = e.modelCall(stage)
	case domain.StageDecision:
		cond, err = e.decide(stage)
	case domain.StageToolCall:
		err = e.toolCall(stage)
	case domain.StageOutput:
		err = e.run.update(e.gen, func() { e.run.answer = e.text })
	default:
		err = domain.E(domain.CodeInternal, "runner.stage", fmt.Sprintf("unknown stage kind %q", stage.Kind), nil)
	}
	if err != nil {
		if !errors.Is(err, errStale) {
			e.logger.Warn("stage failed", telemetry.EventField(telemetry.EventStageFailure), telemetry.StageField(stage.ID), zap.Error(err))
		}
		return "", err
	}
	return cond, e.run.setStage(e.gen, stage.ID, domain.StageCompleted)
}

func (e *execution) transform(stage domain.Stage) error {
	fn, ok := e.runner.opts.Transforms[stage.ID]
	if !ok || fn == nil {
		return nil
	}
	if err := e.run.setStage(e.gen, stage.ID, domain.StageProcessing); err != nil {
		return err
	}
	callCtx, cancel := withTimeout(e.ctx, e.runner.opts.TransformTimeout)
	defer cancel()
	out, err := fn(callCtx, e.text)
	if err != nil {
		return e.classify(callCtx, "runner.transform", domain.CodeTransportFault, err)
	}
	if err := e.run.check(e.gen); err != nil {
		return err
	}
	e.text = out
	return nil
}

// modelCall completes the conversation. When the stage feeds a decision the
// response is left for it to branch on; otherwise further tool requests are
// served inline until the model answers or the round cap is hit.
func (e *execution) modelCall(stage domain.Stage) error {
	if len(e.messages) == 0 {
		e.messages = append(e.messages, domain.Message{Role: domain.RoleUser, Content: e.text})
	}
	if err := e.run.setStage(e.gen, stage.ID, domain.StageProcessing); err != nil {
		return err
	}
	if err := e.loadTools(); err != nil {
		return err
	}

	branches := e.branchesAfter(stage.ID)
	for {
		resp, err := e.complete()
		if err != nil {
			return err
		}
		request, ok := resp.(domain.ToolCallRequest)
		if !ok || len(request.Calls) == 0 {
			e.last = resp
			e.text = answerText(resp)
			return nil
		}
		if branches {
			e.last = resp
			return nil
		}
		if e.rounds >= e.runner.opts.MaxToolRounds {
			return domain.E(domain.CodeToolLoopExceeded, "runner.model_call", fmt.Sprintf("model requested tools after %d rounds", e.rounds), nil)
		}
		if err := e.runTools(stage, request); err != nil {
			return err
		}
	}
}

func (e *execution) complete() (domain.ModelResponse, error) {
	credential, ok := e.runner.credentials.Credential()
	if !ok {
		return nil, domain.E(domain.CodeMissingCredential, "runner.model_call", "credential is not set", nil)
	}
	callCtx, cancel := withTimeout(e.ctx, e.runner.opts.ModelTimeout)
	defer cancel()

	messages := make([]domain.Message, len(e.messages))
	copy(messages, e.messages)
	resp, err := e.runner.model.Complete(callCtx, credential, domain.ModelRequest{
		Messages: messages,
		Tools:    e.tools.Specs(),
	})
	if err != nil {
		return nil, e.classify(callCtx, "runner.model_call", domain.CodeTransportFault, err)
	}
	if err := e.run.check(e.gen); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, domain.E(domain.CodeInternal, "runner.model_call", "model returned no response", nil)
	}
	return resp, nil
}

func (e *execution) decide(stage domain.Stage) (domain.EdgeCondition, error) {
	switch resp := e.last.(type) {
	case domain.ToolCallRequest:
		if len(resp.Calls) > 0 {
			return domain.EdgeToolsNeeded, nil
		}
		return domain.EdgeNoTools, nil
	case domain.DirectAnswer:
		return domain.EdgeNoTools, nil
	default:
		return "", domain.E(domain.CodeInternal, "runner.decision", fmt.Sprintf("decision stage %q reached without a model response", stage.ID), nil)
	}
}

func (e *execution) toolCall(stage domain.Stage) error {
	request, ok := e.last.(domain.ToolCallRequest)
	if !ok || len(request.Calls) == 0 {
		return domain.E(domain.CodeInternal, "runner.tool_call", fmt.Sprintf("tool stage %q reached without a tool request", stage.ID), nil)
	}
	e.last = nil
	return e.runTools(stage, request)
}

// loadTools discovers the tools for this turn once.
func (e *execution) loadTools() error {
	if e.tools != nil {
		return nil
	}
	if e.runner.tools == nil {
		e.tools = toolset.Static()
		return nil
	}
	e.tools = e.runner.tools.Build(e.ctx)
	if err := e.ctx.Err(); err != nil {
		return e.classify(e.ctx, "runner.tools", domain.CodeInternal, err)
	}
	return e.run.check(e.gen)
}

func (e *execution) branchesAfter(stageID string) bool {
	for _, edge := range e.runner.graph.Outgoing(stageID) {
		next, ok := e.runner.graph.Stage(edge.To)
		if ok && next.Kind == domain.StageDecision {
			return true
		}
	}
	return false
}

// classify maps a failed suspension to a stable code. Cancellation of the
// run wins over the deadline of the call.
func (e *execution) classify(callCtx context.Context, op string, code domain.ErrorCode, err error) error {
	if errors.Is(err, errStale) {
		return err
	}
	if runErr := e.ctx.Err(); runErr != nil && errors.Is(runErr, context.Canceled) {
		return domain.E(domain.CodeCanceled, op, "run cancelled", runErr)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return domain.E(domain.CodeTimeout, op, "deadline exceeded", err)
	}
	return domain.Wrap(code, op, err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func answerText(resp domain.ModelResponse) string {
	switch resp := resp.(type) {
	case domain.DirectAnswer:
		return resp.Text
	case domain.ToolCallRequest:
		return resp.Text
	default:
		return ""
	}
}
