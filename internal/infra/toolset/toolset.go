package toolset

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

// Toolset is the immutable set of tools offered for one turn.
type Toolset struct {
	specs  []domain.ToolSpec
	byName map[string]entry
}

type entry struct {
	spec     domain.ToolSpec
	resolved *jsonschema.Resolved
}

func newToolset(specs []domain.ToolSpec, logger *zap.Logger) *Toolset {
	t := &Toolset{
		specs:  specs,
		byName: make(map[string]entry, len(specs)),
	}
	for _, spec := range specs {
		resolved, err := resolveSchema(spec.Schema)
		if err != nil {
			logger.Debug("tool schema not usable for validation", telemetry.ToolField(spec.Name), zap.Error(err))
		}
		t.byName[spec.Name] = entry{spec: spec, resolved: resolved}
	}
	return t
}

// Static builds a toolset from known specs, mainly for tests and dry runs.
func Static(specs ...domain.ToolSpec) *Toolset {
	return newToolset(specs, zap.NewNop())
}

func (t *Toolset) Specs() []domain.ToolSpec {
	if t == nil {
		return nil
	}
	out := make([]domain.ToolSpec, len(t.specs))
	copy(out, t.specs)
	return out
}

func (t *Toolset) Len() int {
	if t == nil {
		return 0
	}
	return len(t.specs)
}

// Lookup returns the offered tool with the given name.
func (t *Toolset) Lookup(name string) (domain.ToolSpec, bool) {
	e, ok := t.lookup(name)
	return e.spec, ok
}

func (t *Toolset) lookup(name string) (entry, bool) {
	if t == nil {
		return entry{}, false
	}
	e, ok := t.byName[name]
	return e, ok
}

// ValidateArguments checks args against the tool's input schema. Tools
// whose schema could not be resolved accept any JSON object.
func (t *Toolset) ValidateArguments(name string, args json.RawMessage) error {
	e, ok := t.lookup(name)
	if !ok {
		return domain.E(domain.CodeToolUnavailable, "toolset.validate", fmt.Sprintf("tool %q", name), domain.ErrToolNotOffered)
	}
	var instance any = map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &instance); err != nil {
			return domain.E(domain.CodeInvalidArgument, "toolset.validate", fmt.Sprintf("arguments for %q are not valid JSON", name), err)
		}
	}
	if _, isObject := instance.(map[string]any); !isObject {
		return domain.E(domain.CodeInvalidArgument, "toolset.validate", fmt.Sprintf("arguments for %q must be a JSON object", name), nil)
	}
	if e.resolved == nil {
		return nil
	}
	if err := e.resolved.Validate(instance); err != nil {
		return domain.E(domain.CodeInvalidArgument, "toolset.validate", fmt.Sprintf("arguments for %q: %v", name, err), err)
	}
	return nil
}

func resolveSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}
