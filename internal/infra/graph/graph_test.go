package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
)

func TestBuiltinFlowsAreValid(t *testing.T) {
	for _, name := range Names() {
		g, err := Lookup(name)
		require.NoError(t, err, name)
		require.Equal(t, name, g.Name())
		require.Equal(t, domain.StageInput, g.Entry().Kind)
	}
}

func TestChatFlow_Branches(t *testing.T) {
	g := ChatFlow()

	edge, ok := g.Next("route", domain.EdgeNoTools)
	require.True(t, ok)
	assert.Equal(t, "response", edge.To)

	edge, ok = g.Next("route", domain.EdgeToolsNeeded)
	require.True(t, ok)
	assert.Equal(t, "mcp", edge.To)

	edge, ok = g.Next("mcp", domain.EdgeUnconditional)
	require.True(t, ok)
	assert.Equal(t, "synthesis", edge.To)

	_, ok = g.Next("response", domain.EdgeUnconditional)
	assert.False(t, ok)

	var ids []string
	for _, stage := range g.RequiresCredential() {
		ids = append(ids, stage.ID)
	}
	assert.Equal(t, []string{"llm", "synthesis"}, ids)
}

func TestVoiceFlow_ToolBranchRejoinsBeforeOutput(t *testing.T) {
	g := VoiceFlow()
	edge, ok := g.Next("synthesis", domain.EdgeUnconditional)
	require.True(t, ok)
	assert.Equal(t, "tts", edge.To)
	edge, ok = g.Next("route", domain.EdgeNoTools)
	require.True(t, ok)
	assert.Equal(t, "tts", edge.To)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("fax")
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeNotFound, code)
}

func TestGraph_ReturnsCopies(t *testing.T) {
	g := ChatFlow()
	stages := g.Stages()
	stages[0].ID = "mutated"
	_, ok := g.Stage("input")
	require.True(t, ok)
}

func TestNew_Validation(t *testing.T) {
	in := domain.Stage{ID: "in", Kind: domain.StageInput}
	model := domain.Stage{ID: "model", Kind: domain.StageModelCall}
	decide := domain.Stage{ID: "decide", Kind: domain.StageDecision}
	tools := domain.Stage{ID: "tools", Kind: domain.StageToolCall}
	out := domain.Stage{ID: "out", Kind: domain.StageOutput}

	cases := []struct {
		name   string
		stages []domain.Stage
		edges  []domain.Edge
		want   string
	}{
		{
			name:   "empty",
			stages: nil,
			want:   "no stages",
		},
		{
			name:   "duplicate stage",
			stages: []domain.Stage{in, in, out},
			edges:  []domain.Edge{{From: "in", To: "out"}},
			want:   "duplicate id",
		},
		{
			name:   "unknown kind",
			stages: []domain.Stage{in, {ID: "x", Kind: "blender"}, out},
			edges:  []domain.Edge{{From: "in", To: "x"}, {From: "x", To: "out"}},
			want:   "unknown kind",
		},
		{
			name:   "unknown endpoint",
			stages: []domain.Stage{in, out},
			edges:  []domain.Edge{{From: "in", To: "nowhere"}},
			want:   "unknown endpoint",
		},
		{
			name:   "two unconditional edges",
			stages: []domain.Stage{in, model, out},
			edges:  []domain.Edge{{From: "in", To: "model"}, {From: "in", To: "out"}, {From: "model", To: "out"}},
			want:   "more than one outgoing edge",
		},
		{
			name:   "decision missing branch",
			stages: []domain.Stage{in, decide, out},
			edges:  []domain.Edge{{From: "in", To: "decide"}, {From: "decide", To: "out", Condition: domain.EdgeNoTools}},
			want:   "must have exactly one",
		},
		{
			name:   "condition outside decision",
			stages: []domain.Stage{in, out},
			edges:  []domain.Edge{{From: "in", To: "out", Condition: domain.EdgeToolsNeeded}},
			want:   "only allowed on decision",
		},
		{
			name:   "no output",
			stages: []domain.Stage{in, model},
			edges:  []domain.Edge{{From: "in", To: "model"}},
			want:   "no output stage",
		},
		{
			name:   "no entry",
			stages: []domain.Stage{model, out},
			edges:  []domain.Edge{{From: "model", To: "out"}},
			want:   "no entry stage",
		},
		{
			name:   "cycle",
			stages: []domain.Stage{in, model, tools, decide, out},
			edges: []domain.Edge{
				{From: "in", To: "model"},
				{From: "model", To: "decide"},
				{From: "decide", To: "tools", Condition: domain.EdgeToolsNeeded},
				{From: "decide", To: "out", Condition: domain.EdgeNoTools},
				{From: "tools", To: "model"},
			},
			want: "cycle",
		},
		{
			name:   "unreachable",
			stages: []domain.Stage{in, model, out},
			edges:  []domain.Edge{{From: "in", To: "out"}, {From: "model", To: "out"}},
			want:   "unreachable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("test", tc.stages, tc.edges)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
			code, ok := domain.CodeFrom(err)
			require.True(t, ok)
			require.Equal(t, domain.CodeInvalidArgument, code)
		})
	}
}
