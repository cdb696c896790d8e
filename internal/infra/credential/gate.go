package credential

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"agentflow/internal/domain"
)

const missingMessage = "API key is required"

// Options configures the validation rule of a Gate.
type Options struct {
	Pattern        string
	PatternMessage string
	Logger         *zap.Logger
}

// Gate holds the single bearer credential used for model calls.
// The value lives in memory only.
type Gate struct {
	pattern        *regexp.Regexp
	patternMessage string
	logger         *zap.Logger

	mu    sync.RWMutex
	value string
	valid bool
	err   string
}

func NewGate(opts Options) (*Gate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pattern := strings.TrimSpace(opts.Pattern)
	if pattern == "" {
		pattern = domain.DefaultCredentialPattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile credential pattern: %w", err)
	}
	message := strings.TrimSpace(opts.PatternMessage)
	if message == "" {
		message = domain.DefaultCredentialPatternMessage
	}
	return &Gate{
		pattern:        compiled,
		patternMessage: message,
		logger:         logger.Named("credential"),
	}, nil
}

// Set stores value and its validity. Invalid values are kept so callers can show them.
func (g *Gate) Set(value string) domain.CredentialResult {
	code, reason := g.validate(value)

	g.mu.Lock()
	g.value = value
	g.valid = reason == ""
	g.err = reason
	g.mu.Unlock()

	if reason != "" {
		g.logger.Debug("credential rejected", zap.String("code", string(code)), zap.String("reason", reason))
		return domain.CredentialResult{Success: false, Code: code, Error: reason}
	}
	return domain.CredentialResult{Success: true}
}

func (g *Gate) Clear() {
	g.mu.Lock()
	g.value = ""
	g.valid = false
	g.err = ""
	g.mu.Unlock()
}

func (g *Gate) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.valid
}

// Credential returns the stored value when it is valid.
func (g *Gate) Credential() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.valid {
		return "", false
	}
	return g.value, true
}

func (g *Gate) State() domain.CredentialState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return domain.CredentialState{
		Present: g.value != "",
		Valid:   g.valid,
		Masked:  mask(g.value),
		Error:   g.err,
	}
}

func (g *Gate) validate(value string) (domain.ErrorCode, string) {
	if value == "" {
		return domain.CodeMissingCredential, missingMessage
	}
	if !g.pattern.MatchString(value) {
		return domain.CodeInvalidCredentialFormat, g.patternMessage
	}
	return "", ""
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", 8)
}

var _ domain.CredentialSource = (*Gate)(nil)
