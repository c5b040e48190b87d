package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/finrag/types"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for compatible gateways
	Model   string
}

// OpenAIProvider implements Provider using the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Completion implements Provider.
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	out := &ChatResponse{
		ID:        resp.ID,
		Provider:  p.Name(),
		Model:     resp.Model,
		CreatedAt: time.Unix(resp.Created, 0),
		Usage: ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			FinishReason: string(ch.FinishReason),
			Message:      Message{Role: Role(ch.Message.Role), Content: ch.Message.Content},
		})
	}
	return out, nil
}

// mapOpenAIError 将 API 错误映射为统一错误码.
func mapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return types.NewError(types.ErrRateLimited, apiErr.Message).WithCause(err).WithRetryable(true).WithComponent("llm")
		case http.StatusBadRequest:
			return types.NewError(types.ErrInvalidRequest, apiErr.Message).WithCause(err).WithComponent("llm")
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return types.NewError(types.ErrServiceUnavailable, apiErr.Message).WithCause(err).WithRetryable(true).WithComponent("llm")
		}
		return types.NewError(types.ErrUpstreamError, fmt.Sprintf("openai status %d", apiErr.HTTPStatusCode)).
			WithCause(err).WithComponent("llm")
	}
	return types.NewError(types.ErrUpstreamError, "openai request failed").WithCause(err).WithComponent("llm")
}
