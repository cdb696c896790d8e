package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"agentflow/internal/domain"
)

// ChatModelFactory builds a tool-calling chat model bound to an API key.
type ChatModelFactory func(ctx context.Context, cfg domain.ModelConfig, apiKey string) (model.ToolCallingChatModel, error)

// NewOpenAICompatible builds a chat model for any OpenAI-compatible endpoint.
func NewOpenAICompatible(ctx context.Context, cfg domain.ModelConfig, apiKey string) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.E(domain.CodeMissingCredential, "model.init", "API key is required", nil)
	}

	switch cfg.Provider {
	case "openai", "":
		chatCfg := &openai.ChatModelConfig{
			Model:  cfg.Model,
			APIKey: apiKey,
		}
		if cfg.BaseURL != "" {
			chatCfg.BaseURL = cfg.BaseURL
		}
		return openai.NewChatModel(ctx, chatCfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func validateProvider(provider string) error {
	switch provider {
	case "openai", "":
		return nil
	default:
		return domain.E(domain.CodeInvalidArgument, "model.new", fmt.Sprintf("unsupported provider: %s", provider), nil)
	}
}
