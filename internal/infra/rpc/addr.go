package rpc

import (
	"fmt"
	"strings"
)

const (
	schemeUnix = "unix://"
	schemeTCP  = "tcp://"
)

// parseListenAddress splits a serve address into the network and address
// net.Listen expects. Bare host:port means tcp.
func parseListenAddress(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", fmt.Errorf("rpc listen address is required")
	}
	network, rest := splitScheme(addr)
	if rest == "" {
		return "", "", fmt.Errorf("rpc listen address %q has no %s target", addr, network)
	}
	return network, rest, nil
}

// normalizeTargetAddress turns a health-check address into a grpc dial target.
// Unix sockets keep their scheme since grpc resolves it natively.
func normalizeTargetAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("rpc address is required")
	}
	network, rest := splitScheme(addr)
	if rest == "" {
		return "", fmt.Errorf("rpc address %q has no %s target", addr, network)
	}
	if network == "unix" {
		return schemeUnix + rest, nil
	}
	return rest, nil
}

func splitScheme(addr string) (string, string) {
	switch {
	case strings.HasPrefix(addr, schemeUnix):
		return "unix", strings.TrimPrefix(addr, schemeUnix)
	case strings.HasPrefix(addr, schemeTCP):
		return "tcp", strings.TrimPrefix(addr, schemeTCP)
	default:
		return "tcp", addr
	}
}
