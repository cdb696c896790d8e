package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/mcpcodec"
)

// ToolETag returns an ETag for a tool list and logs on failure.
func ToolETag(logger *zap.Logger, tools []domain.ToolDefinition) string {
	return hashWithLogger(logger, "tool", func() (string, error) {
		return mcpcodec.HashToolDefinitions(tools)
	})
}

// ConnectionKey identifies the transport settings of a server. Two servers
// with the same key can share an MCP session.
func ConnectionKey(server domain.ToolServer) string {
	var sb strings.Builder
	sb.WriteString(server.ID)
	sb.WriteByte(0)
	sb.WriteString(strings.TrimSpace(server.Endpoint))
	sb.WriteByte(0)
	sb.WriteString(server.Authorization)
	keys := make([]string, 0, len(server.Headers))
	for key := range server.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteByte(0)
		sb.WriteString(strings.ToLower(key))
		sb.WriteByte('=')
		sb.WriteString(server.Headers[key])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func hashWithLogger(logger *zap.Logger, label string, fn func() (string, error)) string {
	etag, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("%s hash failed", label), zap.Error(err))
		}
		return ""
	}
	return etag
}
