package mcpcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentflow/internal/domain"
)

// ToolFromMCP converts an MCP tool to a domain definition.
func ToolFromMCP(tool *mcp.Tool) domain.ToolDefinition {
	if tool == nil {
		return domain.ToolDefinition{}
	}
	return domain.ToolDefinition{
		Name:        tool.Name,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: normalizeSchema(tool.InputSchema),
	}
}

func ToolsFromMCP(tools []*mcp.Tool) []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		out = append(out, ToolFromMCP(tool))
	}
	return out
}

// ResultText flattens the content of a tool result into plain text. Non-text
// content is rendered as JSON so the model still sees it.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			raw, err := json.Marshal(c)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[unrenderable %T content]", c))
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if raw, err := json.Marshal(result.StructuredContent); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}

// ArgumentsObject decodes tool arguments. Empty input becomes an empty object.
func ArgumentsObject(raw json.RawMessage) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// HashToolDefinitions returns a stable digest of a tool list.
func HashToolDefinitions(tools []domain.ToolDefinition) (string, error) {
	data, err := json.Marshal(tools)
	if err != nil {
		return "", fmt.Errorf("marshal tools: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeSchema round-trips typed schemas into plain JSON values.
func normalizeSchema(schema any) any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
}
