package mcpcodec

import (
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolFromMCP_NormalizesTypedSchema(t *testing.T) {
	tool := &mcp.Tool{
		Name:        "web_search",
		Description: "search the web",
		InputSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string"},
			},
		},
	}

	def := ToolFromMCP(tool)
	require.Equal(t, "web_search", def.Name)
	schema, ok := def.InputSchema.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "query")
}

func TestToolsFromMCP_SkipsNamelessTools(t *testing.T) {
	defs := ToolsFromMCP([]*mcp.Tool{nil, {Name: ""}, {Name: "a"}})
	require.Len(t, defs, 1)
	require.Equal(t, "a", defs[0].Name)
}

func TestResultText(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "first"},
			&mcp.TextContent{Text: "second"},
		},
	}
	require.Equal(t, "first\nsecond", ResultText(result))
	require.Equal(t, "", ResultText(nil))

	structured := &mcp.CallToolResult{StructuredContent: map[string]any{"n": 1}}
	require.JSONEq(t, `{"n":1}`, ResultText(structured))
}

func TestArgumentsObject(t *testing.T) {
	args, err := ArgumentsObject(nil)
	require.NoError(t, err)
	require.Empty(t, args)

	args, err = ArgumentsObject(json.RawMessage(`{"query":"go"}`))
	require.NoError(t, err)
	require.Equal(t, "go", args["query"])

	_, err = ArgumentsObject(json.RawMessage(`["not","object"]`))
	require.Error(t, err)
}

func TestHashToolDefinitionsIsStable(t *testing.T) {
	defs := ToolsFromMCP([]*mcp.Tool{{Name: "a", InputSchema: map[string]any{"type": "object"}}})
	first, err := HashToolDefinitions(defs)
	require.NoError(t, err)
	second, err := HashToolDefinitions(defs)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}
