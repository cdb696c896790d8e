package domain

import "slices"

// ServerStatus is the last known health of a tool server.
type ServerStatus string

const (
	ServerStatusUnknown   ServerStatus = "unknown"
	ServerStatusConnected ServerStatus = "connected"
	ServerStatusError     ServerStatus = "error"
)

// Valid reports whether the status is one of the known values.
func (s ServerStatus) Valid() bool {
	switch s {
	case ServerStatusUnknown, ServerStatusConnected, ServerStatusError:
		return true
	default:
		return false
	}
}

// ApprovalMode selects the variant of an ApprovalPolicy.
type ApprovalMode string

const (
	// ApprovalAlways requires explicit approval for every tool call.
	ApprovalAlways ApprovalMode = "always"
	// ApprovalNever auto-approves every tool call.
	ApprovalNever ApprovalMode = "never"
	// ApprovalNeverExcept auto-approves every tool call except the listed tool names.
	ApprovalNeverExcept ApprovalMode = "never_except"
)

// ApprovalPolicy decides whether a tool call needs external sign-off.
// Except is only meaningful for ApprovalNeverExcept.
type ApprovalPolicy struct {
	Mode   ApprovalMode `json:"mode"`
	Except []string     `json:"except,omitempty"`
}

// AlwaysApprove returns a policy that gates every call.
func AlwaysApprove() ApprovalPolicy {
	return ApprovalPolicy{Mode: ApprovalAlways}
}

// NeverApprove returns a policy that auto-approves every call.
func NeverApprove() ApprovalPolicy {
	return ApprovalPolicy{Mode: ApprovalNever}
}

// NeverApproveExcept returns a policy that gates only the named tools.
func NeverApproveExcept(toolNames ...string) ApprovalPolicy {
	return ApprovalPolicy{Mode: ApprovalNeverExcept, Except: slices.Clone(toolNames)}
}

// RequiresApproval applies the policy to a tool name.
// An unset mode behaves like ApprovalNever.
func (p ApprovalPolicy) RequiresApproval(toolName string) bool {
	switch p.Mode {
	case ApprovalAlways:
		return true
	case ApprovalNeverExcept:
		return slices.Contains(p.Except, toolName)
	default:
		return false
	}
}

// Clone returns a deep copy of the policy.
func (p ApprovalPolicy) Clone() ApprovalPolicy {
	return ApprovalPolicy{Mode: p.Mode, Except: CloneStrings(p.Except)}
}

// ApprovalDecision is the registry verdict for a single server/tool pair.
type ApprovalDecision string

const (
	ApprovalRequired    ApprovalDecision = "requires_approval"
	ApprovalAuto        ApprovalDecision = "auto_approved"
	ApprovalUnavailable ApprovalDecision = "unavailable"
)

// ToolServer is a remote MCP server registered with the pipeline.
type ToolServer struct {
	ID            string            `json:"id"`
	Label         string            `json:"label"`
	Description   string            `json:"description,omitempty"`
	Endpoint      string            `json:"endpoint"`
	Enabled       bool              `json:"enabled"`
	Approval      ApprovalPolicy    `json:"approval"`
	AllowedTools  []string          `json:"allowedTools,omitempty"`
	Authorization string            `json:"-"`
	Headers       map[string]string `json:"-"`
	Status        ServerStatus      `json:"status"`
	LastError     string            `json:"lastError,omitempty"`
}

// AllowsTool reports whether the allow-list admits the tool.
// A nil allow-list admits every tool.
func (s ToolServer) AllowsTool(toolName string) bool {
	if s.AllowedTools == nil {
		return true
	}
	return slices.Contains(s.AllowedTools, toolName)
}

// Clone returns a deep copy of the server.
func (s ToolServer) Clone() ToolServer {
	out := s
	out.Approval = s.Approval.Clone()
	out.AllowedTools = CloneStrings(s.AllowedTools)
	out.Headers = CloneStringMap(s.Headers)
	return out
}

// ToolServerConfig is the input for registering a server.
// ID is honoured only for configuration seeding; AddServer always assigns a fresh id.
type ToolServerConfig struct {
	ID            string
	Label         string
	Description   string
	Endpoint      string
	Enabled       bool
	Approval      ApprovalPolicy
	AllowedTools  []string
	Authorization string
	Headers       map[string]string
}

// ToolServerPatch carries partial updates; nil fields are left unchanged.
type ToolServerPatch struct {
	Label         *string
	Description   *string
	Endpoint      *string
	Enabled       *bool
	Approval      *ApprovalPolicy
	AllowedTools  *[]string
	Authorization *string
	Headers       *map[string]string
}

// CloneStrings copies a slice, keeping nil and empty distinct.
func CloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// CloneStringMap copies a map, keeping nil distinct from empty.
func CloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
