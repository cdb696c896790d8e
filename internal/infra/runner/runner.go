package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/graph"
	"agentflow/internal/infra/toolset"
)

// ServerSource is the registry view the runner resolves tool calls against.
type ServerSource interface {
	ListEnabled() []domain.ToolServer
	ResolveApproval(serverID, toolName string) domain.ApprovalDecision
	ReportStatus(id string, status domain.ServerStatus, lastError string) error
}

// ToolsetBuilder discovers the tools offered to the model for one turn.
type ToolsetBuilder interface {
	Build(ctx context.Context) *toolset.Toolset
}

// TransformFunc rewrites the text flowing through a transform stage.
type TransformFunc func(ctx context.Context, text string) (string, error)

// Deps are the collaborators shared by every run of a Runner.
type Deps struct {
	Graph       *graph.Graph
	Credentials domain.CredentialSource
	Servers     ServerSource
	Tools       ToolsetBuilder
	Model       domain.ModelCapability
	Transport   domain.ToolTransport
	Approver    domain.Approver
	Events      domain.StageEventEmitter
	Metrics     domain.Metrics
	Recorder    domain.RunRecorder
	Logger      *zap.Logger
}

// Options tunes run execution. Zero timeouts leave only the caller's deadline.
type Options struct {
	MaxToolRounds    int
	ModelTimeout     time.Duration
	ToolTimeout      time.Duration
	ApprovalTimeout  time.Duration
	TransformTimeout time.Duration
	Transforms       map[string]TransformFunc
}

// Runner executes turns against one pipeline graph.
type Runner struct {
	graph       *graph.Graph
	credentials domain.CredentialSource
	servers     ServerSource
	tools       ToolsetBuilder
	model       domain.ModelCapability
	transport   domain.ToolTransport
	approver    domain.Approver
	events      domain.StageEventEmitter
	metrics     domain.Metrics
	recorder    domain.RunRecorder
	logger      *zap.Logger

	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) (*Runner, error) {
	if deps.Graph == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "runner.new", "graph is required", nil)
	}
	if deps.Credentials == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "runner.new", "credential source is required", nil)
	}
	if deps.Model == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "runner.new", "model capability is required", nil)
	}
	if deps.Servers == nil || deps.Transport == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "runner.new", "tool registry and transport are required", nil)
	}
	for stageID := range opts.Transforms {
		stage, ok := deps.Graph.Stage(stageID)
		if !ok || stage.Kind != domain.StageTransform {
			return nil, domain.E(domain.CodeInvalidArgument, "runner.new", fmt.Sprintf("transform registered for %q, which is not a transform stage of %s", stageID, deps.Graph.Name()), nil)
		}
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = domain.DefaultMaxToolRounds
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		graph:       deps.Graph,
		credentials: deps.Credentials,
		servers:     deps.Servers,
		tools:       deps.Tools,
		model:       deps.Model,
		transport:   deps.Transport,
		approver:    deps.Approver,
		events:      deps.Events,
		metrics:     deps.Metrics,
		recorder:    deps.Recorder,
		logger:      logger.Named("runner"),
		opts:        opts,
		now:         time.Now,
	}, nil
}

// Graph returns the graph runs traverse.
func (r *Runner) Graph() *graph.Graph {
	return r.graph
}

// NewRun creates a run with every stage idle.
func (r *Runner) NewRun() *Run {
	return newRun(r)
}

// Execute runs a single turn on a fresh run.
func (r *Runner) Execute(ctx context.Context, turn Turn) (domain.RunSnapshot, error) {
	return r.NewRun().Execute(ctx, turn)
}

// missingCredential returns the first stage that needs a credential when the
// gate is not ready.
func (r *Runner) missingCredential() (domain.Stage, bool) {
	stages := r.graph.RequiresCredential()
	if len(stages) == 0 || r.credentials.IsReady() {
		return domain.Stage{}, false
	}
	return stages[0], true
}

func (r *Runner) emit(event domain.StageEvent) {
	if r.events == nil {
		return
	}
	r.events.EmitStageEvent(event)
}
