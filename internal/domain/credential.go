package domain

// CredentialResult reports the outcome of a credential update. Code is
// CodeMissingCredential for an empty value and CodeInvalidCredentialFormat
// for a value the pattern rejects.
type CredentialResult struct {
	Success bool      `json:"success"`
	Code    ErrorCode `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// CredentialState is a read-only view of the credential gate.
// Masked never contains more than the first four characters of the value.
type CredentialState struct {
	Present bool   `json:"present"`
	Valid   bool   `json:"valid"`
	Masked  string `json:"masked,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CredentialSource yields the current bearer credential for model calls.
type CredentialSource interface {
	IsReady() bool
	Credential() (string, bool)
}
