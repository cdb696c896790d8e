package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

func newTestLoader(env map[string]string) *Loader {
	loader := NewLoader(zap.NewNop())
	loader.lookupEnv = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	return loader
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := newTestLoader(nil).Load(context.Background(), "")
	require.NoError(t, err)

	require.Equal(t, domain.DefaultModelName, cfg.Model.Model)
	require.Equal(t, domain.DefaultModelBaseURL, cfg.Model.BaseURL)
	require.Equal(t, domain.DefaultFlow, cfg.Runner.Flow)
	require.Equal(t, domain.DefaultMaxToolRounds, cfg.Runner.MaxToolRounds)
	require.Equal(t, domain.DefaultApprovalTimeoutSeconds, cfg.Runner.ApprovalTimeoutSeconds)
	require.Equal(t, domain.DefaultProbeIntervalSeconds, cfg.Probe.IntervalSeconds)
	require.Equal(t, domain.DefaultObservabilityListenAddress, cfg.Observability.ListenAddress)
	require.Equal(t, domain.DefaultRPCListenAddress, cfg.RPC.ListenAddress)
	require.Equal(t, domain.DefaultEventsSubject, cfg.Events.Subject)
	require.Equal(t, domain.DefaultCredentialEnvVar, cfg.Credential.EnvVar)
	require.True(t, cfg.Registry.Enabled)
	require.True(t, cfg.Registry.UseDefaults)
	require.Empty(t, cfg.Registry.Servers)
	require.Empty(t, cfg.Credential.Value)
}

func TestLoader_Servers(t *testing.T) {
	file := writeTempConfig(t, "agentflow.yaml", `
registry:
  enabled: false
  servers:
    - id: firecrawl
      label: Firecrawl
      endpoint: https://mcp.firecrawl.dev/mcp
      requireApproval: never
      headers:
        x-api-key: abc
    - id: tavily
      endpoint: https://mcp.tavily.com/mcp
      enabled: false
      requireApproval:
        never:
          toolNames: [tavily_extract]
      allowedTools: [tavily_search, tavily_extract]
    - id: parallel
      endpoint: https://mcp.parallel.ai/mcp
      requireApproval: always
      authorization: Bearer token
`)

	cfg, err := newTestLoader(nil).Load(context.Background(), file)
	require.NoError(t, err)
	require.False(t, cfg.Registry.Enabled)
	require.False(t, cfg.Registry.UseDefaults)

	expect := []domain.ToolServerConfig{
		{
			ID:       "firecrawl",
			Label:    "Firecrawl",
			Endpoint: "https://mcp.firecrawl.dev/mcp",
			Enabled:  true,
			Approval: domain.NeverApprove(),
			Headers:  map[string]string{"X-Api-Key": "abc"},
		},
		{
			ID:           "tavily",
			Endpoint:     "https://mcp.tavily.com/mcp",
			Enabled:      false,
			Approval:     domain.NeverApproveExcept("tavily_extract"),
			AllowedTools: []string{"tavily_search", "tavily_extract"},
		},
		{
			ID:            "parallel",
			Endpoint:      "https://mcp.parallel.ai/mcp",
			Enabled:       true,
			Approval:      domain.AlwaysApprove(),
			Authorization: "Bearer token",
		},
	}
	if diff := cmp.Diff(expect, cfg.Registry.Servers); diff != "" {
		t.Fatalf("servers mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_ExplicitEmptyServers(t *testing.T) {
	file := writeTempConfig(t, "agentflow.yaml", `
registry:
  servers: []
`)
	cfg, err := newTestLoader(nil).Load(context.Background(), file)
	require.NoError(t, err)
	require.False(t, cfg.Registry.UseDefaults)
	require.Empty(t, cfg.Registry.Servers)
}

func TestLoader_EnvExpansion(t *testing.T) {
	file := writeTempConfig(t, "agentflow.yaml", `
runner:
  maxToolRounds: ${ROUNDS}
registry:
  servers:
    - id: hf
      endpoint: https://hf.co/mcp
      authorization: "Bearer ${HF_TOKEN}"
      headers:
        X-Trace: "${UNSET_VAR}"
`)
	cfg, err := newTestLoader(map[string]string{"ROUNDS": "5", "HF_TOKEN": "hf_123"}).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Runner.MaxToolRounds)
	require.Equal(t, "Bearer hf_123", cfg.Registry.Servers[0].Authorization)
	require.Equal(t, "", cfg.Registry.Servers[0].Headers["X-Trace"])
}

func TestLoader_CredentialFromEnvironment(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{"GROQ_API_KEY": " gsk_fromenv "}).Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "gsk_fromenv", cfg.Credential.Value)

	file := writeTempConfig(t, "agentflow.yaml", `
credential:
  apiKey: gsk_fromfile
`)
	cfg, err = newTestLoader(map[string]string{"GROQ_API_KEY": "gsk_fromenv"}).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "gsk_fromfile", cfg.Credential.Value)
}

func TestLoader_EnvironmentOverride(t *testing.T) {
	t.Setenv("AGENTFLOW_RUNNER_FLOW", "voice")
	cfg, err := newTestLoader(nil).Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "voice", cfg.Runner.Flow)
}

func TestLoader_TOML(t *testing.T) {
	file := writeTempConfig(t, "agentflow.toml", `
[model]
model = "llama-3.1-8b-instant"

[runner]
flow = "voice"

[[registry.servers]]
id = "browseruse"
endpoint = "https://api.browser-use.com/mcp"
authorization = "Bearer ${BU_TOKEN}"
requireApproval = { never = { toolNames = ["browser_task"] } }
`)
	cfg, err := newTestLoader(map[string]string{"BU_TOKEN": "bu"}).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "llama-3.1-8b-instant", cfg.Model.Model)
	require.Equal(t, "voice", cfg.Runner.Flow)
	require.Len(t, cfg.Registry.Servers, 1)
	server := cfg.Registry.Servers[0]
	require.Equal(t, "Bearer bu", server.Authorization)
	require.Equal(t, domain.NeverApproveExcept("browser_task"), server.Approval)
	require.True(t, server.Enabled)
}

func TestLoader_ValidationErrors(t *testing.T) {
	file := writeTempConfig(t, "agentflow.yaml", `
credential:
  pattern: "("
runner:
  flow: fax
  maxToolRounds: 0
  toolTimeoutSeconds: -1
registry:
  servers:
    - id: dup
      endpoint: https://a.example.com/mcp
    - id: dup
      endpoint: not a url
    - endpoint: https://b.example.com/mcp
      requireApproval: sometimes
    - id: headers
      endpoint: https://c.example.com/mcp
      requireApproval:
        always: {}
events:
  natsURL: nats://127.0.0.1:4222
  subject: ""
`)
	_, err := newTestLoader(nil).Load(context.Background(), file)
	require.Error(t, err)
	for _, want := range []string{
		"credential.pattern",
		"runner.flow must be one of chat, voice",
		"runner.maxToolRounds must be >= 1",
		"runner.toolTimeoutSeconds must be >= 0",
		`registry.servers[1]: duplicate id "dup"`,
		"registry.servers[1]: endpoint",
		"registry.servers[2]: id is required",
		"registry.servers[2]: requireApproval",
		"registry.servers[3]: requireApproval: object form must use the never key",
		"events.subject is required",
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := newTestLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestLoader_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestLoader(nil).Load(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseApprovalPolicy(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		want    domain.ApprovalPolicy
		wantErr bool
	}{
		{name: "missing", value: nil, want: domain.NeverApprove()},
		{name: "never", value: "never", want: domain.NeverApprove()},
		{name: "always", value: " Always ", want: domain.AlwaysApprove()},
		{name: "except", value: map[string]any{"never": map[string]any{"toolNames": []any{"x"}}}, want: domain.NeverApproveExcept("x")},
		{name: "lowercased keys", value: map[string]any{"never": map[string]any{"toolnames": []any{"x", "y"}}}, want: domain.NeverApproveExcept("x", "y")},
		{name: "unknown string", value: "sometimes", wantErr: true},
		{name: "missing tool names", value: map[string]any{"never": map[string]any{}}, wantErr: true},
		{name: "non-string name", value: map[string]any{"never": map[string]any{"toolNames": []any{1}}}, wantErr: true},
		{name: "number", value: 3, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseApprovalPolicy(tc.value)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}
