package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

type Options struct {
	Config  domain.ModelConfig
	Factory ChatModelFactory
	Metrics domain.Metrics
	Logger  *zap.Logger
}

// Capability completes conversations through an eino chat model. The
// underlying client is rebuilt when the credential changes.
type Capability struct {
	config  domain.ModelConfig
	factory ChatModelFactory
	metrics domain.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	key    string
	client model.ToolCallingChatModel
}

func New(opts Options) (*Capability, error) {
	if err := validateProvider(opts.Config.Provider); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := opts.Factory
	if factory == nil {
		factory = NewOpenAICompatible
	}
	cfg := opts.Config
	if cfg.Provider == "" {
		cfg.Provider = domain.DefaultModelProvider
	}
	return &Capability{
		config:  cfg,
		factory: factory,
		metrics: opts.Metrics,
		logger:  logger.Named("model"),
	}, nil
}

// Complete sends the conversation to the model and classifies the reply.
func (c *Capability) Complete(ctx context.Context, credential string, req domain.ModelRequest) (domain.ModelResponse, error) {
	chat, err := c.chatModel(ctx, credential)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		chat, err = chat.WithTools(toolInfos(req.Tools))
		if err != nil {
			return nil, domain.E(domain.CodeInternal, "model.complete", "bind tools", err)
		}
	}

	messages := c.toMessages(req.Messages)
	started := time.Now()
	response, err := chat.Generate(ctx, messages)
	c.observeLatency(time.Since(started), err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.Wrap(domain.CodeTimeout, "model.complete", ctxErr)
		}
		msg := telemetry.ScrubSecret(fmt.Sprintf("generate: %v", err), credential)
		return nil, domain.E(domain.CodeTransportFault, "model.complete", msg, err)
	}
	if response == nil {
		return nil, domain.E(domain.CodeInternal, "model.complete", "model returned no message", nil)
	}
	c.observeTokenUsage(response)
	return classify(response), nil
}

func (c *Capability) chatModel(ctx context.Context, credential string) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, domain.E(domain.CodeMissingCredential, "model.complete", "credential is not set", nil)
	}
	key := fingerprint(credential)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.key == key {
		return c.client, nil
	}
	chat, err := c.factory(ctx, c.config, credential)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "model.init", err)
	}
	c.client = chat
	c.key = key
	c.logger.Debug("chat model initialized", zap.String("provider", c.config.Provider), zap.String("model", c.config.Model))
	return chat, nil
}

func (c *Capability) toMessages(in []domain.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(in)+1)
	if prompt := strings.TrimSpace(c.config.SystemPrompt); prompt != "" {
		out = append(out, schema.SystemMessage(prompt))
	}
	for _, msg := range in {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case domain.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, toToolCalls(msg.ToolCalls)))
		case domain.RoleTool:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

func toToolCalls(calls []domain.ToolInvocation) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, call := range calls {
		args := string(call.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, schema.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.ToolName,
				Arguments: args,
			},
		})
	}
	return out
}

func classify(response *schema.Message) domain.ModelResponse {
	if len(response.ToolCalls) == 0 {
		return domain.DirectAnswer{Text: response.Content}
	}
	calls := make([]domain.ToolInvocation, 0, len(response.ToolCalls))
	for i, call := range response.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		args := strings.TrimSpace(call.Function.Arguments)
		var raw json.RawMessage
		if args != "" {
			raw = json.RawMessage(args)
		}
		calls = append(calls, domain.ToolInvocation{
			ID:        id,
			ToolName:  call.Function.Name,
			Arguments: raw,
		})
	}
	return domain.ToolCallRequest{Text: response.Content, Calls: calls}
}

func (c *Capability) observeLatency(duration time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveModelLatency(c.config.Provider, c.config.Model, duration, err)
}

func (c *Capability) observeTokenUsage(response *schema.Message) {
	if c.metrics == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	c.metrics.ObserveModelTokens(c.config.Provider, c.config.Model, tokens)
}

func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

var _ domain.ModelCapability = (*Capability)(nil)
