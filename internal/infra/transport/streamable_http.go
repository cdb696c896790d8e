package transport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentflow/internal/domain"
)

func newStreamableTransport(server domain.ToolServer, base http.RoundTripper, maxRetries int) (*mcp.StreamableClientTransport, error) {
	endpoint := strings.TrimSpace(server.Endpoint)
	if endpoint == "" {
		return nil, domain.ErrEndpointRequired
	}
	headerTransport, err := buildHeaderTransport(server, base)
	if err != nil {
		return nil, err
	}
	return &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: headerTransport},
		MaxRetries: effectiveMaxRetries(maxRetries),
	}, nil
}

func buildHeaderTransport(server domain.ToolServer, base http.RoundTripper) (http.RoundTripper, error) {
	headers := http.Header{}
	for key, value := range server.Headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, errors.New("http headers contain empty key")
		}
		headers.Set(name, value)
	}
	if auth := strings.TrimSpace(server.Authorization); auth != "" {
		headers.Set("Authorization", auth)
	}

	if base == nil {
		base = http.DefaultTransport
	}
	if base == nil {
		return nil, errors.New("default http transport is nil")
	}

	return &headerRoundTripper{
		base:    base,
		headers: headers,
	}, nil
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.headers) > 0 {
		req = req.Clone(req.Context())
		for key, values := range h.headers {
			req.Header.Del(key)
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
	}
	return h.base.RoundTrip(req)
}

func effectiveMaxRetries(value int) int {
	if value == 0 {
		return domain.DefaultStreamableHTTPMaxRetries
	}
	return value
}
