package telemetry

import "strings"

const redacted = "***"

// Header names whose values never reach logs or CLI output.
var sensitiveHeaderParts = []string{
	"authorization",
	"api-key",
	"api_key",
	"apikey",
	"token",
	"secret",
	"cookie",
}

// SensitiveHeader reports whether a header carries a secret.
func SensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range sensitiveHeaderParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// RedactMap copies headers with sensitive values masked.
func RedactMap(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if SensitiveHeader(name) {
			value = redacted
		}
		out[name] = value
	}
	return out
}

// ScrubSecret removes every occurrence of secret from text. Provider errors
// may echo the credential and end up in run records.
func ScrubSecret(text, secret string) string {
	if secret == "" || !strings.Contains(text, secret) {
		return text
	}
	return strings.ReplaceAll(text, secret, redacted)
}
