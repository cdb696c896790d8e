package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApprovalPolicy_RequiresApproval(t *testing.T) {
	require.True(t, AlwaysApprove().RequiresApproval("anything"))
	require.False(t, NeverApprove().RequiresApproval("anything"))
	require.False(t, ApprovalPolicy{}.RequiresApproval("anything"))

	policy := NeverApproveExcept("x")
	require.True(t, policy.RequiresApproval("x"))
	for _, name := range []string{"y", "", "X", "web_search"} {
		require.False(t, policy.RequiresApproval(name), name)
	}
}

func TestToolServer_AllowsTool(t *testing.T) {
	server := ToolServer{}
	require.True(t, server.AllowsTool("web_search"))

	server.AllowedTools = []string{"web_search"}
	require.True(t, server.AllowsTool("web_search"))
	require.False(t, server.AllowsTool("crawl"))

	server.AllowedTools = []string{}
	require.False(t, server.AllowsTool("web_search"))
}

func TestToolServer_CloneIsDeep(t *testing.T) {
	server := ToolServer{
		ID:           "a",
		AllowedTools: []string{},
		Headers:      map[string]string{"x-api-key": "k"},
		Approval:     NeverApproveExcept("x"),
	}
	clone := server.Clone()
	clone.Headers["x-api-key"] = "changed"
	clone.Approval.Except[0] = "y"

	require.Equal(t, "k", server.Headers["x-api-key"])
	require.Equal(t, "x", server.Approval.Except[0])
	require.NotNil(t, clone.AllowedTools)
	require.Empty(t, clone.AllowedTools)
}
