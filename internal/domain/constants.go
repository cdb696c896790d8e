package domain

const (
	DefaultCredentialPattern          = `^gsk_[A-Za-z0-9]{1,60}$`
	DefaultCredentialPatternMessage   = "API key must start with gsk_ followed by alphanumeric characters"
	DefaultCredentialEnvVar           = "GROQ_API_KEY"
	DefaultModelProvider              = "openai"
	DefaultModelName                  = "llama-3.3-70b-versatile"
	DefaultModelBaseURL               = "https://api.groq.com/openai/v1"
	DefaultFlow                       = "chat"
	DefaultMaxToolRounds              = 3
	DefaultModelTimeoutSeconds        = 60
	DefaultToolTimeoutSeconds         = 30
	DefaultApprovalTimeoutSeconds     = 300
	DefaultTransformTimeoutSeconds    = 30
	DefaultToolListTimeoutSeconds     = 10
	DefaultProbeIntervalSeconds       = 30
	DefaultProbeTimeoutSeconds        = 5
	DefaultObservabilityListenAddress = "127.0.0.1:9090"
	DefaultRPCListenAddress           = "127.0.0.1:9091"
	DefaultEventsSubject              = "agentflow.events"
	DefaultStreamableHTTPMaxRetries   = 3
	DefaultClientName                 = "agentflow"
	DefaultClientVersion              = "0.1.0"
)
