package graph

import (
	"errors"
	"fmt"
	"slices"

	"agentflow/internal/domain"
)

// Graph is an immutable, validated stage graph.
type Graph struct {
	name     string
	stages   []domain.Stage
	edges    []domain.Edge
	index    map[string]int
	outgoing map[string][]domain.Edge
	entry    string
}

// New validates stages and edges and returns the graph.
func New(name string, stages []domain.Stage, edges []domain.Edge) (*Graph, error) {
	g := &Graph{
		name:     name,
		stages:   slices.Clone(stages),
		edges:    slices.Clone(edges),
		index:    make(map[string]int, len(stages)),
		outgoing: make(map[string][]domain.Edge, len(stages)),
	}
	if err := g.validate(); err != nil {
		return nil, domain.E(domain.CodeInvalidArgument, "graph.new", fmt.Sprintf("flow %q: %s", name, err.Error()), err)
	}
	return g, nil
}

func (g *Graph) validate() error {
	var errs []error
	if len(g.stages) == 0 {
		return errors.New("no stages")
	}
	for i, stage := range g.stages {
		if stage.ID == "" {
			errs = append(errs, fmt.Errorf("stages[%d]: id is required", i))
			continue
		}
		if !stage.Kind.Valid() {
			errs = append(errs, fmt.Errorf("stage %q: unknown kind %q", stage.ID, stage.Kind))
		}
		if _, dup := g.index[stage.ID]; dup {
			errs = append(errs, fmt.Errorf("stage %q: duplicate id", stage.ID))
			continue
		}
		g.index[stage.ID] = i
	}

	incoming := make(map[string]int, len(g.stages))
	edgeIDs := make(map[string]struct{}, len(g.edges))
	for _, edge := range g.edges {
		if edge.ID != "" {
			if _, dup := edgeIDs[edge.ID]; dup {
				errs = append(errs, fmt.Errorf("edge %q: duplicate id", edge.ID))
			}
			edgeIDs[edge.ID] = struct{}{}
		}
		_, fromOK := g.index[edge.From]
		_, toOK := g.index[edge.To]
		if !fromOK || !toOK {
			errs = append(errs, fmt.Errorf("edge %s: unknown endpoint", describeEdge(edge)))
			continue
		}
		if edge.From == edge.To {
			errs = append(errs, fmt.Errorf("edge %s: self loop", describeEdge(edge)))
			continue
		}
		switch edge.Condition {
		case domain.EdgeUnconditional, domain.EdgeToolsNeeded, domain.EdgeNoTools:
		default:
			errs = append(errs, fmt.Errorf("edge %s: unknown condition %q", describeEdge(edge), edge.Condition))
			continue
		}
		for _, existing := range g.outgoing[edge.From] {
			if existing.Condition == edge.Condition {
				errs = append(errs, fmt.Errorf("stage %q: more than one outgoing edge with condition %q", edge.From, conditionName(edge.Condition)))
			}
		}
		g.outgoing[edge.From] = append(g.outgoing[edge.From], edge)
		incoming[edge.To]++
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	var entries []string
	outputs := 0
	for _, stage := range g.stages {
		out := g.outgoing[stage.ID]
		if stage.Kind == domain.StageInput && incoming[stage.ID] == 0 {
			entries = append(entries, stage.ID)
		}
		switch stage.Kind {
		case domain.StageOutput:
			outputs++
			if len(out) > 0 {
				errs = append(errs, fmt.Errorf("output stage %q has outgoing edges", stage.ID))
			}
		case domain.StageDecision:
			if len(out) != 2 || !hasCondition(out, domain.EdgeToolsNeeded) || !hasCondition(out, domain.EdgeNoTools) {
				errs = append(errs, fmt.Errorf("decision stage %q must have exactly one %q and one %q edge", stage.ID, domain.EdgeToolsNeeded, domain.EdgeNoTools))
			}
		default:
			if len(out) == 0 {
				errs = append(errs, fmt.Errorf("stage %q has no outgoing edge", stage.ID))
			}
			for _, edge := range out {
				if edge.Condition != domain.EdgeUnconditional {
					errs = append(errs, fmt.Errorf("edge %s: conditions are only allowed on decision stages", describeEdge(edge)))
				}
			}
		}
	}
	switch len(entries) {
	case 0:
		errs = append(errs, errors.New("no entry stage: need an input stage without incoming edges"))
	case 1:
		g.entry = entries[0]
	default:
		errs = append(errs, fmt.Errorf("multiple entry stages: %v", entries))
	}
	if outputs == 0 {
		errs = append(errs, errors.New("no output stage"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if cycle := g.findCycle(); cycle != nil {
		return fmt.Errorf("cycle through %v", cycle)
	}
	for _, stage := range g.stages {
		if stage.Kind == domain.StageToolCall && !g.reachesOutput(stage.ID) {
			errs = append(errs, fmt.Errorf("tool call stage %q does not reach an output stage", stage.ID))
		}
		if stage.ID != g.entry && incoming[stage.ID] == 0 {
			errs = append(errs, fmt.Errorf("stage %q is unreachable", stage.ID))
		}
	}
	return errors.Join(errs...)
}

func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.stages))
	var stack []string
	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, edge := range g.outgoing[id] {
			switch color[edge.To] {
			case grey:
				start := slices.Index(stack, edge.To)
				return append(slices.Clone(stack[start:]), edge.To)
			case white:
				if cycle := visit(edge.To); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	for _, stage := range g.stages {
		if color[stage.ID] == white {
			if cycle := visit(stage.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) reachesOutput(from string) bool {
	seen := map[string]bool{}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if g.stages[g.index[id]].Kind == domain.StageOutput {
			return true
		}
		for _, edge := range g.outgoing[id] {
			queue = append(queue, edge.To)
		}
	}
	return false
}

// Name returns the flow name.
func (g *Graph) Name() string {
	return g.name
}

func (g *Graph) Stage(id string) (domain.Stage, bool) {
	idx, ok := g.index[id]
	if !ok {
		return domain.Stage{}, false
	}
	return g.stages[idx], true
}

// Stages returns the stages in declaration order.
func (g *Graph) Stages() []domain.Stage {
	return slices.Clone(g.stages)
}

func (g *Graph) Edges() []domain.Edge {
	return slices.Clone(g.edges)
}

// Entry returns the single input stage without incoming edges.
func (g *Graph) Entry() domain.Stage {
	return g.stages[g.index[g.entry]]
}

func (g *Graph) Outgoing(id string) []domain.Edge {
	return slices.Clone(g.outgoing[id])
}

// Next follows the outgoing edge of id matching cond. Non-decision stages
// only have unconditional edges, so cond is ignored for them.
func (g *Graph) Next(id string, cond domain.EdgeCondition) (domain.Edge, bool) {
	stage, ok := g.Stage(id)
	if !ok {
		return domain.Edge{}, false
	}
	for _, edge := range g.outgoing[id] {
		if stage.Kind != domain.StageDecision || edge.Condition == cond {
			return edge, true
		}
	}
	return domain.Edge{}, false
}

// RequiresCredential returns the stages that need a ready credential.
func (g *Graph) RequiresCredential() []domain.Stage {
	var out []domain.Stage
	for _, stage := range g.stages {
		if stage.RequiresCredential {
			out = append(out, stage)
		}
	}
	return out
}

func hasCondition(edges []domain.Edge, cond domain.EdgeCondition) bool {
	for _, edge := range edges {
		if edge.Condition == cond {
			return true
		}
	}
	return false
}

func describeEdge(edge domain.Edge) string {
	if edge.ID != "" {
		return fmt.Sprintf("%q", edge.ID)
	}
	return fmt.Sprintf("%s->%s", edge.From, edge.To)
}

func conditionName(cond domain.EdgeCondition) string {
	if cond == domain.EdgeUnconditional {
		return "unconditional"
	}
	return string(cond)
}
