package domain

import "time"

// Config is the fully parsed process configuration.
type Config struct {
	Credential    CredentialConfig    `json:"credential"`
	Model         ModelConfig         `json:"model"`
	Registry      RegistryConfig      `json:"registry"`
	Runner        RunnerConfig        `json:"runner"`
	Probe         ProbeConfig         `json:"probe"`
	Observability ObservabilityConfig `json:"observability"`
	RPC           RPCConfig           `json:"rpc"`
	Events        EventsConfig        `json:"events"`
	Store         StoreConfig         `json:"store"`
}

type CredentialConfig struct {
	Value          string `json:"-"`
	EnvVar         string `json:"envVar"`
	Pattern        string `json:"pattern"`
	PatternMessage string `json:"patternMessage"`
}

// ModelConfig selects the chat model behind the model capability.
type ModelConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	BaseURL      string `json:"baseURL"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type RegistryConfig struct {
	Enabled bool               `json:"enabled"`
	Servers []ToolServerConfig `json:"servers"`
	// UseDefaults is set when the configuration did not list servers.
	UseDefaults bool `json:"useDefaults"`
}

type RunnerConfig struct {
	Flow                    string `json:"flow"`
	MaxToolRounds           int    `json:"maxToolRounds"`
	ModelTimeoutSeconds     int    `json:"modelTimeoutSeconds"`
	ToolTimeoutSeconds      int    `json:"toolTimeoutSeconds"`
	ApprovalTimeoutSeconds  int    `json:"approvalTimeoutSeconds"`
	TransformTimeoutSeconds int    `json:"transformTimeoutSeconds"`
	ToolListTimeoutSeconds  int    `json:"toolListTimeoutSeconds"`
}

type ProbeConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
	TimeoutSeconds  int `json:"timeoutSeconds"`
}

// ObservabilityConfig controls the HTTP server for /metrics and /healthz.
// Nil toggles fall back to the process defaults.
type ObservabilityConfig struct {
	ListenAddress  string `json:"listenAddress"`
	MetricsEnabled *bool  `json:"metricsEnabled,omitempty"`
	HealthzEnabled *bool  `json:"healthzEnabled,omitempty"`
}

type RPCConfig struct {
	ListenAddress string `json:"listenAddress"`
}

// EventsConfig enables publishing stage events to NATS when URL is set.
type EventsConfig struct {
	NATSURL string `json:"natsURL,omitempty"`
	Subject string `json:"subject"`
}

// StoreConfig enables the run summary store when Path is set.
type StoreConfig struct {
	Path string `json:"path,omitempty"`
}

// Seconds converts a configured second count to a duration; non-positive means no limit.
func Seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
