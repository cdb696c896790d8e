package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

// Turn is one user input driven through the graph.
type Turn struct {
	Text string
}

var errStale = errors.New("run generation superseded")

// Run holds the per-run stage state. A run executes at most one turn until
// it is reset.
type Run struct {
	runner *Runner

	mu         sync.Mutex
	id         string
	generation uint64
	status     domain.RunStatus
	stages     map[string]domain.StageStatus
	current    string
	enteredAt  time.Time
	path       []string
	edges      []string
	toolCalls  []domain.ToolResult
	answer     string
	failure    *domain.RunFailure
	startedAt  time.Time
	endedAt    time.Time
	cancel     context.CancelFunc
}

func newRun(r *Runner) *Run {
	run := &Run{
		runner: r,
		id:     telemetry.NewRunID(),
		status: domain.RunNotStarted,
		stages: make(map[string]domain.StageStatus),
	}
	for _, stage := range r.graph.Stages() {
		run.stages[stage.ID] = domain.StageIdle
	}
	return run
}

func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Execute drives the turn from the entry stage to an output stage. The
// returned snapshot reflects the terminal state; the error carries the
// failure code when the run did not complete.
func (r *Run) Execute(ctx context.Context, turn Turn) (domain.RunSnapshot, error) {
	if strings.TrimSpace(turn.Text) == "" {
		return r.Snapshot(), domain.E(domain.CodeInvalidArgument, "runner.execute", "turn text is empty", nil)
	}

	r.mu.Lock()
	switch {
	case r.status == domain.RunRunning:
		r.mu.Unlock()
		return r.Snapshot(), domain.E(domain.CodeFailedPrecond, "runner.execute", "", domain.ErrRunInProgress)
	case r.status != domain.RunNotStarted:
		r.mu.Unlock()
		return r.Snapshot(), domain.E(domain.CodeFailedPrecond, "runner.execute", "", domain.ErrRunNotReset)
	}
	r.generation++
	gen := r.generation
	runID := r.id
	flow := r.runner.graph.Name()
	r.startedAt = r.runner.now()

	ctx, _ = telemetry.EnsureRunMeta(ctx, runID, flow)
	logger := telemetry.LoggerWithRun(ctx, r.runner.logger)

	if stage, missing := r.runner.missingCredential(); missing {
		err := domain.E(domain.CodeMissingCredential, "runner.execute", fmt.Sprintf("credential required by stage %q is not set", stage.ID), nil)
		r.failure = &domain.RunFailure{Code: err.Code, Message: err.Message}
		r.setRunStatusLocked(domain.RunFailed)
		record := r.recordLocked()
		snapshot := r.snapshotLocked()
		r.mu.Unlock()

		logger.Warn("run rejected", telemetry.EventField(telemetry.EventRunFinish), telemetry.CodeField(string(err.Code)), zap.String("stage", stage.ID))
		r.finish(record, logger)
		return snapshot, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel
	r.setRunStatusLocked(domain.RunRunning)
	r.mu.Unlock()

	logger.Info("run started", telemetry.EventField(telemetry.EventRunStart))
	exec := &execution{
		run:    r,
		runner: r.runner,
		gen:    gen,
		ctx:    runCtx,
		logger: logger,
		text:   turn.Text,
	}
	err := exec.traverse()
	return r.conclude(gen, err, logger)
}

// Cancel stops an in-flight execution. The run ends cancelled and any
// result that arrives afterward is discarded.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.status != domain.RunRunning {
		r.mu.Unlock()
		return
	}
	cancel := r.cancelLocked("run cancelled")
	record := r.recordLocked()
	r.mu.Unlock()

	cancel()
	r.finish(record, r.runner.logger)
}

// Reset cancels any in-flight execution, then returns every stage to idle
// and the run to not started. Calling it repeatedly has no further effect.
func (r *Run) Reset() {
	r.mu.Lock()
	var (
		cancel    context.CancelFunc
		record    domain.RunRecord
		cancelled bool
	)
	if r.status == domain.RunRunning {
		cancel = r.cancelLocked("run reset")
		record = r.recordLocked()
		cancelled = true
	}
	if r.pristineLocked() {
		r.mu.Unlock()
		return
	}

	r.generation++
	for _, stage := range r.runner.graph.Stages() {
		if r.stages[stage.ID] == domain.StageIdle {
			continue
		}
		r.stages[stage.ID] = domain.StageIdle
		r.emitLocked(domain.StageEvent{StageID: stage.ID, Status: domain.StageIdle})
	}
	r.current = ""
	r.path = nil
	r.edges = nil
	r.toolCalls = nil
	r.answer = ""
	r.failure = nil
	r.startedAt = time.Time{}
	r.endedAt = time.Time{}
	r.cancel = nil
	r.setRunStatusLocked(domain.RunNotStarted)
	r.id = telemetry.NewRunID()
	r.mu.Unlock()

	if cancelled {
		cancel()
		r.finish(record, r.runner.logger)
	}
}

// Snapshot returns a copy of the run state.
func (r *Run) Snapshot() domain.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) conclude(gen uint64, err error, logger *zap.Logger) (domain.RunSnapshot, error) {
	r.mu.Lock()
	if gen != r.generation {
		snapshot := r.snapshotLocked()
		r.mu.Unlock()
		logger.Info("run result discarded", telemetry.EventField(telemetry.EventStaleDiscarded))
		return snapshot, domain.E(domain.CodeCanceled, "runner.execute", "run was cancelled", context.Canceled)
	}

	if err == nil {
		r.setRunStatusLocked(domain.RunCompleted)
	} else {
		code, ok := domain.CodeFrom(err)
		if !ok {
			code = domain.CodeInternal
			err = domain.Wrap(domain.CodeInternal, "runner.execute", err)
		}
		r.failCurrentLocked(err.Error())
		r.failure = &domain.RunFailure{Code: code, StageID: r.current, Message: failureMessage(err)}
		if code == domain.CodeCanceled {
			r.setRunStatusLocked(domain.RunCancelled)
		} else {
			r.setRunStatusLocked(domain.RunFailed)
		}
	}
	record := r.recordLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err != nil {
		logger.Warn("run failed",
			telemetry.EventField(telemetry.EventRunFinish),
			telemetry.StageField(snapshot.Failure.StageID),
			telemetry.CodeField(string(snapshot.Failure.Code)),
			zap.Error(err),
		)
	} else {
		logger.Info("run completed", telemetry.EventField(telemetry.EventRunFinish), zap.Strings("path", snapshot.Path))
	}
	r.finish(record, logger)
	return snapshot, err
}

// finish publishes metrics and the run summary once the run is terminal.
func (r *Run) finish(record domain.RunRecord, logger *zap.Logger) {
	if metrics := r.runner.metrics; metrics != nil {
		metrics.ObserveRun(domain.RunMetric{
			Flow:        record.Flow,
			Status:      record.Status,
			FailureCode: record.FailureCode,
			Duration:    record.FinishedAt.Sub(record.StartedAt),
		})
	}
	if recorder := r.runner.recorder; recorder != nil {
		if err := recorder.Record(record); err != nil {
			logger.Warn("record run failed", telemetry.RunIDField(record.ID), zap.Error(err))
		}
	}
}

// update applies fn while the run still belongs to generation gen.
func (r *Run) update(gen uint64, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return errStale
	}
	fn()
	return nil
}

func (r *Run) check(gen uint64) error {
	return r.update(gen, func() {})
}

func (r *Run) enterStage(gen uint64, stageID string) error {
	return r.update(gen, func() {
		r.path = append(r.path, stageID)
		r.current = stageID
		r.enteredAt = r.runner.now()
		r.setStageLocked(stageID, domain.StageActive, "")
	})
}

func (r *Run) setStage(gen uint64, stageID string, status domain.StageStatus) error {
	return r.update(gen, func() {
		r.setStageLocked(stageID, status, "")
	})
}

// setStageLocked moves a stage forward. Stages never regress outside Reset.
func (r *Run) setStageLocked(stageID string, status domain.StageStatus, errMsg string) {
	current := r.stages[stageID]
	if stageRank(status) <= stageRank(current) {
		return
	}
	r.stages[stageID] = status
	r.emitLocked(domain.StageEvent{StageID: stageID, Status: status, Error: errMsg})

	if !status.Terminal() {
		return
	}
	if metrics := r.runner.metrics; metrics != nil {
		stage, _ := r.runner.graph.Stage(stageID)
		metrics.ObserveStage(domain.StageMetric{
			Flow:     r.runner.graph.Name(),
			Kind:     stage.Kind,
			Status:   status,
			Duration: r.runner.now().Sub(r.enteredAt),
		})
	}
}

func (r *Run) failCurrentLocked(errMsg string) {
	if r.current == "" {
		return
	}
	if r.stages[r.current].Terminal() {
		return
	}
	r.setStageLocked(r.current, domain.StageFailed, errMsg)
}

func (r *Run) cancelLocked(reason string) context.CancelFunc {
	r.generation++
	r.failCurrentLocked(reason)
	r.failure = &domain.RunFailure{Code: domain.CodeCanceled, StageID: r.current, Message: reason}
	r.setRunStatusLocked(domain.RunCancelled)
	cancel := r.cancel
	if cancel == nil {
		cancel = func() {}
	}
	return cancel
}

func (r *Run) setRunStatusLocked(status domain.RunStatus) {
	r.status = status
	if status.Terminal() {
		r.endedAt = r.runner.now()
	}
	event := domain.StageEvent{RunStatus: status}
	if r.failure != nil && status != domain.RunCompleted {
		event.Error = r.failure.Message
	}
	r.emitLocked(event)
}

// emitLocked fills the run identity and publishes. Emitting under the lock
// keeps events in transition order; emitters never block.
func (r *Run) emitLocked(event domain.StageEvent) {
	event.RunID = r.id
	event.Flow = r.runner.graph.Name()
	if event.RunStatus == "" {
		event.RunStatus = r.status
	}
	event.At = r.runner.now()
	r.runner.emit(event)
}

func (r *Run) pristineLocked() bool {
	if r.status != domain.RunNotStarted || len(r.path) > 0 {
		return false
	}
	for _, status := range r.stages {
		if status != domain.StageIdle {
			return false
		}
	}
	return true
}

func (r *Run) snapshotLocked() domain.RunSnapshot {
	stages := make(map[string]domain.StageStatus, len(r.stages))
	for id, status := range r.stages {
		stages[id] = status
	}
	snapshot := domain.RunSnapshot{
		RunID:     r.id,
		Flow:      r.runner.graph.Name(),
		Status:    r.status,
		Stages:    stages,
		Path:      append([]string(nil), r.path...),
		Edges:     append([]string(nil), r.edges...),
		ToolCalls: append([]domain.ToolResult(nil), r.toolCalls...),
		Answer:    r.answer,
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
	}
	if r.failure != nil {
		failure := *r.failure
		snapshot.Failure = &failure
	}
	return snapshot
}

// recordLocked builds the durable summary. Prompt and answer text stay out.
func (r *Run) recordLocked() domain.RunRecord {
	record := domain.RunRecord{
		ID:         r.id,
		Flow:       r.runner.graph.Name(),
		Status:     r.status,
		Path:       append([]string(nil), r.path...),
		Edges:      append([]string(nil), r.edges...),
		ToolCalls:  len(r.toolCalls),
		StartedAt:  r.startedAt,
		FinishedAt: r.endedAt,
	}
	for _, call := range r.toolCalls {
		if call.IsError {
			record.ToolFailures++
		}
	}
	if r.failure != nil {
		record.FailureCode = r.failure.Code
		record.FailureStage = r.failure.StageID
		record.FailureMessage = r.failure.Message
	}
	return record
}

func stageRank(status domain.StageStatus) int {
	switch status {
	case domain.StageActive:
		return 1
	case domain.StageProcessing:
		return 2
	case domain.StageCompleted, domain.StageFailed:
		return 3
	default:
		return 0
	}
}

func failureMessage(err error) string {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}
