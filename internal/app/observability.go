package app

import (
	"os"
	"strconv"
	"strings"
)

// EnvMetricsEnabled and EnvHealthzEnabled set the observability endpoints
// when the configuration leaves them unset.
const (
	EnvMetricsEnabled = "AGENTFLOW_METRICS_ENABLED"
	EnvHealthzEnabled = "AGENTFLOW_HEALTHZ_ENABLED"
)

func resolveObservabilityDefaults() (bool, bool) {
	return envToggle(EnvMetricsEnabled, true), envToggle(EnvHealthzEnabled, true)
}

// envToggle reads a boolean switch; unset or unparsable values keep the fallback.
func envToggle(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
