package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/graph"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTFLOW_RUNNER_FLOW.
const EnvPrefix = "AGENTFLOW"

type Loader struct {
	logger    *zap.Logger
	lookupEnv func(string) (string, bool)
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("catalog"), lookupEnv: os.LookupEnv}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("credential.apiKey", "")
	v.SetDefault("credential.envVar", domain.DefaultCredentialEnvVar)
	v.SetDefault("credential.pattern", domain.DefaultCredentialPattern)
	v.SetDefault("credential.patternMessage", domain.DefaultCredentialPatternMessage)
	v.SetDefault("model.provider", domain.DefaultModelProvider)
	v.SetDefault("model.model", domain.DefaultModelName)
	v.SetDefault("model.baseURL", domain.DefaultModelBaseURL)
	v.SetDefault("model.systemPrompt", "")
	v.SetDefault("registry.enabled", true)
	v.SetDefault("runner.flow", domain.DefaultFlow)
	v.SetDefault("runner.maxToolRounds", domain.DefaultMaxToolRounds)
	v.SetDefault("runner.modelTimeoutSeconds", domain.DefaultModelTimeoutSeconds)
	v.SetDefault("runner.toolTimeoutSeconds", domain.DefaultToolTimeoutSeconds)
	v.SetDefault("runner.approvalTimeoutSeconds", domain.DefaultApprovalTimeoutSeconds)
	v.SetDefault("runner.transformTimeoutSeconds", domain.DefaultTransformTimeoutSeconds)
	v.SetDefault("runner.toolListTimeoutSeconds", domain.DefaultToolListTimeoutSeconds)
	v.SetDefault("probe.intervalSeconds", domain.DefaultProbeIntervalSeconds)
	v.SetDefault("probe.timeoutSeconds", domain.DefaultProbeTimeoutSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("rpc.listenAddress", domain.DefaultRPCListenAddress)
	v.SetDefault("events.natsURL", "")
	v.SetDefault("events.subject", domain.DefaultEventsSubject)
	v.SetDefault("store.path", "")
}

type rawConfig struct {
	Credential    rawCredentialConfig    `mapstructure:"credential"`
	Model         rawModelConfig         `mapstructure:"model"`
	Registry      rawRegistryConfig      `mapstructure:"registry"`
	Runner        rawRunnerConfig        `mapstructure:"runner"`
	Probe         rawProbeConfig         `mapstructure:"probe"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
	RPC           rawRPCConfig           `mapstructure:"rpc"`
	Events        rawEventsConfig        `mapstructure:"events"`
	Store         rawStoreConfig         `mapstructure:"store"`
}

type rawCredentialConfig struct {
	APIKey         string `mapstructure:"apiKey"`
	EnvVar         string `mapstructure:"envVar"`
	Pattern        string `mapstructure:"pattern"`
	PatternMessage string `mapstructure:"patternMessage"`
}

type rawModelConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"baseURL"`
	SystemPrompt string `mapstructure:"systemPrompt"`
}

type rawRegistryConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Servers []rawServerConfig `mapstructure:"servers"`
}

type rawServerConfig struct {
	ID              string            `mapstructure:"id"`
	Label           string            `mapstructure:"label"`
	Description     string            `mapstructure:"description"`
	Endpoint        string            `mapstructure:"endpoint"`
	Enabled         *bool             `mapstructure:"enabled"`
	RequireApproval any               `mapstructure:"requireApproval"`
	AllowedTools    []string          `mapstructure:"allowedTools"`
	Authorization   string            `mapstructure:"authorization"`
	Headers         map[string]string `mapstructure:"headers"`
}

type rawRunnerConfig struct {
	Flow                    string `mapstructure:"flow"`
	MaxToolRounds           int    `mapstructure:"maxToolRounds"`
	ModelTimeoutSeconds     int    `mapstructure:"modelTimeoutSeconds"`
	ToolTimeoutSeconds      int    `mapstructure:"toolTimeoutSeconds"`
	ApprovalTimeoutSeconds  int    `mapstructure:"approvalTimeoutSeconds"`
	TransformTimeoutSeconds int    `mapstructure:"transformTimeoutSeconds"`
	ToolListTimeoutSeconds  int    `mapstructure:"toolListTimeoutSeconds"`
}

type rawProbeConfig struct {
	IntervalSeconds int `mapstructure:"intervalSeconds"`
	TimeoutSeconds  int `mapstructure:"timeoutSeconds"`
}

type rawObservabilityConfig struct {
	ListenAddress  string `mapstructure:"listenAddress"`
	MetricsEnabled *bool  `mapstructure:"metricsEnabled"`
	HealthzEnabled *bool  `mapstructure:"healthzEnabled"`
}

type rawRPCConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawEventsConfig struct {
	NATSURL string `mapstructure:"natsURL"`
	Subject string `mapstructure:"subject"`
}

type rawStoreConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads the config file at path. An empty path yields the defaults,
// still subject to environment overrides.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	v := newConfigViper()
	if path != "" {
		if err := l.read(v, path); err != nil {
			return domain.Config{}, err
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}
	// An absent servers key seeds the built-in defaults; an explicit empty
	// list means no servers.
	useDefaults := !v.IsSet("registry.servers")

	cfg, errs := l.normalize(raw)
	cfg.Registry.UseDefaults = useDefaults
	if len(errs) > 0 {
		return domain.Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (l *Loader) read(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expander := newEnvExpander(l.lookupEnv)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		tree := map[string]any{}
		if err := toml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
		expander.expandTree(tree)
		if err := v.MergeConfigMap(tree); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		expanded, err := expander.expandYAML(data)
		if err != nil {
			return err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	if missing := expander.missingVars(); len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
	}
	return nil
}

func (l *Loader) normalize(raw rawConfig) (domain.Config, []string) {
	var errs []string

	credential, credErrs := l.normalizeCredential(raw.Credential)
	errs = append(errs, credErrs...)

	servers := make([]domain.ToolServerConfig, 0, len(raw.Registry.Servers))
	seen := make(map[string]struct{}, len(raw.Registry.Servers))
	for i, rawServer := range raw.Registry.Servers {
		server, serverErrs := normalizeServer(rawServer, i)
		errs = append(errs, serverErrs...)
		if server.ID != "" {
			if _, dup := seen[server.ID]; dup {
				errs = append(errs, fmt.Sprintf("registry.servers[%d]: duplicate id %q", i, server.ID))
			}
			seen[server.ID] = struct{}{}
		}
		servers = append(servers, server)
	}

	runner := domain.RunnerConfig{
		Flow:                    strings.ToLower(strings.TrimSpace(raw.Runner.Flow)),
		MaxToolRounds:           raw.Runner.MaxToolRounds,
		ModelTimeoutSeconds:     raw.Runner.ModelTimeoutSeconds,
		ToolTimeoutSeconds:      raw.Runner.ToolTimeoutSeconds,
		ApprovalTimeoutSeconds:  raw.Runner.ApprovalTimeoutSeconds,
		TransformTimeoutSeconds: raw.Runner.TransformTimeoutSeconds,
		ToolListTimeoutSeconds:  raw.Runner.ToolListTimeoutSeconds,
	}
	errs = append(errs, validateRunner(runner)...)

	probe := domain.ProbeConfig{
		IntervalSeconds: raw.Probe.IntervalSeconds,
		TimeoutSeconds:  raw.Probe.TimeoutSeconds,
	}
	if probe.IntervalSeconds < 0 || probe.TimeoutSeconds < 0 {
		errs = append(errs, "probe: intervalSeconds and timeoutSeconds must be >= 0")
	}

	model := domain.ModelConfig{
		Provider:     strings.ToLower(strings.TrimSpace(raw.Model.Provider)),
		Model:        strings.TrimSpace(raw.Model.Model),
		BaseURL:      strings.TrimSpace(raw.Model.BaseURL),
		SystemPrompt: raw.Model.SystemPrompt,
	}
	if model.Model == "" {
		errs = append(errs, "model.model is required")
	}
	if model.BaseURL != "" {
		if err := validateURL(model.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("model.baseURL: %v", err))
		}
	}

	events := domain.EventsConfig{
		NATSURL: strings.TrimSpace(raw.Events.NATSURL),
		Subject: strings.TrimSpace(raw.Events.Subject),
	}
	if events.NATSURL != "" && events.Subject == "" {
		errs = append(errs, "events.subject is required when events.natsURL is set")
	}

	return domain.Config{
		Credential: credential,
		Model:      model,
		Registry: domain.RegistryConfig{
			Enabled: raw.Registry.Enabled,
			Servers: servers,
		},
		Runner: runner,
		Probe:  probe,
		Observability: domain.ObservabilityConfig{
			ListenAddress:  strings.TrimSpace(raw.Observability.ListenAddress),
			MetricsEnabled: raw.Observability.MetricsEnabled,
			HealthzEnabled: raw.Observability.HealthzEnabled,
		},
		RPC:    domain.RPCConfig{ListenAddress: strings.TrimSpace(raw.RPC.ListenAddress)},
		Events: events,
		Store:  domain.StoreConfig{Path: strings.TrimSpace(raw.Store.Path)},
	}, errs
}

// normalizeCredential resolves the key from the file first, then from the
// configured environment variable.
func (l *Loader) normalizeCredential(raw rawCredentialConfig) (domain.CredentialConfig, []string) {
	cfg := domain.CredentialConfig{
		Value:          strings.TrimSpace(raw.APIKey),
		EnvVar:         strings.TrimSpace(raw.EnvVar),
		Pattern:        strings.TrimSpace(raw.Pattern),
		PatternMessage: strings.TrimSpace(raw.PatternMessage),
	}
	if cfg.Value == "" && cfg.EnvVar != "" {
		if value, ok := l.lookupEnv(cfg.EnvVar); ok {
			cfg.Value = strings.TrimSpace(value)
		}
	}
	if cfg.Pattern != "" {
		if _, err := regexp.Compile(cfg.Pattern); err != nil {
			return cfg, []string{fmt.Sprintf("credential.pattern: %v", err)}
		}
	}
	return cfg, nil
}

func normalizeServer(raw rawServerConfig, index int) (domain.ToolServerConfig, []string) {
	var errs []string
	prefix := fmt.Sprintf("registry.servers[%d]", index)

	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}
	policy, err := ParseApprovalPolicy(raw.RequireApproval)
	if err != nil {
		errs = append(errs, fmt.Sprintf("%s: requireApproval: %v", prefix, err))
	}
	headers, err := normalizeHeaders(raw.Headers)
	if err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
	}

	cfg := domain.ToolServerConfig{
		ID:            strings.TrimSpace(raw.ID),
		Label:         strings.TrimSpace(raw.Label),
		Description:   strings.TrimSpace(raw.Description),
		Endpoint:      strings.TrimSpace(raw.Endpoint),
		Enabled:       enabled,
		Approval:      policy,
		AllowedTools:  raw.AllowedTools,
		Authorization: strings.TrimSpace(raw.Authorization),
		Headers:       headers,
	}
	if cfg.ID == "" {
		errs = append(errs, fmt.Sprintf("%s: id is required", prefix))
	}
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Sprintf("%s: endpoint is required", prefix))
	} else if err := validateURL(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("%s: endpoint: %v", prefix, err))
	}
	return cfg, errs
}

// ParseApprovalPolicy accepts "always", "never" or
// {never: {toolNames: [...]}}. A missing value means never.
func ParseApprovalPolicy(value any) (domain.ApprovalPolicy, error) {
	switch v := value.(type) {
	case nil:
		return domain.NeverApprove(), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", string(domain.ApprovalNever):
			return domain.NeverApprove(), nil
		case string(domain.ApprovalAlways):
			return domain.AlwaysApprove(), nil
		default:
			return domain.ApprovalPolicy{}, fmt.Errorf("must be always, never or {never: {toolNames: [...]}}, got %q", v)
		}
	case map[string]any:
		if len(v) != 1 {
			return domain.ApprovalPolicy{}, errors.New("object form must have exactly one key: never")
		}
		never, ok := lookupKey(v, "never")
		if !ok {
			return domain.ApprovalPolicy{}, errors.New("object form must use the never key")
		}
		names, err := toolNames(never)
		if err != nil {
			return domain.ApprovalPolicy{}, err
		}
		return domain.NeverApproveExcept(names...), nil
	default:
		return domain.ApprovalPolicy{}, fmt.Errorf("unsupported value of type %T", value)
	}
}

func toolNames(value any) ([]string, error) {
	body, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("never must be an object with toolNames")
	}
	rawNames, ok := lookupKey(body, "toolNames")
	if !ok {
		return nil, errors.New("never.toolNames is required")
	}
	list, ok := rawNames.([]any)
	if !ok {
		return nil, errors.New("never.toolNames must be a list")
	}
	names := make([]string, 0, len(list))
	for i, item := range list {
		name, ok := item.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("never.toolNames[%d] must be a non-empty string", i)
		}
		names = append(names, strings.TrimSpace(name))
	}
	return names, nil
}

// lookupKey matches keys case-insensitively; viper lowercases nested keys.
func lookupKey(m map[string]any, key string) (any, bool) {
	if value, ok := m[key]; ok {
		return value, true
	}
	for k, value := range m {
		if strings.EqualFold(k, key) {
			return value, true
		}
	}
	return nil, false
}

func normalizeHeaders(headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(map[string]string, len(headers))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			return nil, errors.New("header name must not be empty")
		}
		normalized[http.CanonicalHeaderKey(trimmed)] = strings.TrimSpace(headers[key])
	}
	return normalized, nil
}

func validateRunner(cfg domain.RunnerConfig) []string {
	var errs []string
	if _, err := graph.Lookup(cfg.Flow); err != nil {
		errs = append(errs, fmt.Sprintf("runner.flow must be one of %s", strings.Join(graph.Names(), ", ")))
	}
	if cfg.MaxToolRounds < 1 {
		errs = append(errs, "runner.maxToolRounds must be >= 1")
	}
	timeouts := map[string]int{
		"modelTimeoutSeconds":     cfg.ModelTimeoutSeconds,
		"toolTimeoutSeconds":      cfg.ToolTimeoutSeconds,
		"approvalTimeoutSeconds":  cfg.ApprovalTimeoutSeconds,
		"transformTimeoutSeconds": cfg.TransformTimeoutSeconds,
		"toolListTimeoutSeconds":  cfg.ToolListTimeoutSeconds,
	}
	names := make([]string, 0, len(timeouts))
	for name := range timeouts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if timeouts[name] < 0 {
			errs = append(errs, fmt.Sprintf("runner.%s must be >= 0", name))
		}
	}
	return errs
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%q must be an absolute URL", raw)
	}
	return nil
}
