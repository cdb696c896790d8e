package catalog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envExpander replaces ${VAR} references in string values and remembers
// which variables were not set.
type envExpander struct {
	lookup  func(string) (string, bool)
	missing map[string]struct{}
}

func newEnvExpander(lookup func(string) (string, bool)) *envExpander {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envExpander{lookup: lookup, missing: make(map[string]struct{})}
}

// expandYAML expands a YAML (or JSON) document and re-encodes it.
func (e *envExpander) expandYAML(raw []byte) (string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	e.expandNode(&root)

	expanded, err := yaml.Marshal(&root)
	if err != nil {
		return "", fmt.Errorf("encode expanded config: %w", err)
	}
	return string(expanded), nil
}

// expandTree expands string leaves of a decoded TOML document in place.
func (e *envExpander) expandTree(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			v[key] = e.expandTree(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = e.expandTree(child)
		}
		return v
	case string:
		if !strings.Contains(v, "$") {
			return v
		}
		return e.expand(v)
	default:
		return v
	}
}

func (e *envExpander) expandNode(node *yaml.Node) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			e.expandNode(child)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			e.expandNode(node.Content[i+1])
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			e.expandNode(node.Alias)
		}
	case yaml.ScalarNode:
		e.expandScalar(node)
	}
}

func (e *envExpander) expandScalar(node *yaml.Node) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}
	expanded := e.expand(node.Value)
	if expanded == node.Value {
		return
	}
	// Quoted scalars stay strings; plain ones may turn into numbers or bools.
	if node.Style != 0 {
		node.Tag = "!!str"
		node.Value = expanded
		return
	}
	node.Tag, node.Value = coerceScalar(expanded)
}

func (e *envExpander) expand(value string) string {
	return os.Expand(value, func(key string) string {
		if val, ok := e.lookup(key); ok {
			return val
		}
		e.missing[key] = struct{}{}
		return ""
	})
}

func (e *envExpander) missingVars() []string {
	if len(e.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.missing))
	for name := range e.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func coerceScalar(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}
	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
