package registry

import "agentflow/internal/domain"

// DefaultServers is the seed used when configuration lists no servers.
// Only firecrawl works without a key, so it is the only one enabled.
func DefaultServers() []domain.ToolServerConfig {
	return []domain.ToolServerConfig{
		{
			ID:           "tavily-search",
			Label:        "Tavily",
			Description:  "Real-time web search and research capabilities",
			Endpoint:     "https://mcp.tavily.com/mcp/?tavilyApiKey=YOUR_TAVILY_API_KEY",
			Approval:     domain.NeverApprove(),
			AllowedTools: []string{"web_search", "commentary"},
		},
		{
			ID:          "parallel-search",
			Label:       "Parallel",
			Description: "Advanced web search with parallel processing",
			Endpoint:    "https://mcp.parallel.ai/v1beta/search_mcp/",
			Approval:    domain.NeverApprove(),
			Headers:     map[string]string{"x-api-key": "YOUR_PARALLEL_API_KEY"},
		},
		{
			ID:            "huggingface-models",
			Label:         "hf",
			Description:   "Access to Hugging Face model inference and datasets",
			Endpoint:      "https://huggingface.co/mcp",
			Approval:      domain.NeverApprove(),
			Authorization: "Bearer YOUR_HF_TOKEN",
		},
		{
			ID:          "browseruse",
			Label:       "browseruse",
			Description: "Browser automation and web interaction capabilities",
			Endpoint:    "https://api.browser-use.com/mcp/",
			Approval:    domain.NeverApprove(),
			Headers:     map[string]string{"X-Browser-Use-API-Key": "YOUR_BROWSER_USE_API_KEY"},
		},
		{
			ID:          "firecrawl",
			Label:       "firecrawl",
			Description: "Web scraping and content extraction capabilities",
			Endpoint:    "https://mcp.firecrawl.dev/YOUR-API-KEY/v2/mcp",
			Enabled:     true,
			Approval:    domain.NeverApprove(),
			Headers:     map[string]string{},
		},
	}
}
