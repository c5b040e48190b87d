package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/finrag/llm/retry"
	"github.com/BaSui01/finrag/types"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Model 是管线各组件依赖的模型能力: 结构化抽取与自由文本生成.
type Model interface {
	// Extract 执行结构化任务, 输出经 JSON Schema 校验后解码到 out.
	Extract(ctx context.Context, task Task, system, prompt string, out any) error

	// Generate 执行自由文本任务.
	Generate(ctx context.Context, task Task, system, prompt string) (string, error)
}

// CallObserver receives one notification per model call attempt.
type CallObserver func(task Task, duration time.Duration, err error)

// ClientConfig configures a StructuredClient.
type ClientConfig struct {
	Model       string
	FastModel   string // used for structured tasks when set
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	RetryDelay  time.Duration
}

// DefaultClientConfig returns the defaults used by the pipeline.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Model:       "gpt-4o",
		FastModel:   "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   4096,
		Timeout:     60 * time.Second,
		RetryDelay:  500 * time.Millisecond,
	}
}

// StructuredClient implements Model on top of a Provider.
type StructuredClient struct {
	provider Provider
	cfg      ClientConfig
	schemas  map[Task]*gojsonschema.Schema
	retryer  retry.Retryer
	observer CallObserver
	logger   *zap.Logger
}

// NewStructuredClient compiles the task schemas and wraps provider.
func NewStructuredClient(provider Provider, cfg ClientConfig, logger *zap.Logger) (*StructuredClient, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	schemas := make(map[Task]*gojsonschema.Schema, len(taskSchemas))
	for task, raw := range taskSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", task, err)
		}
		schemas[task] = s
	}

	return &StructuredClient{
		provider: provider,
		cfg:      cfg,
		schemas:  schemas,
		retryer:  retry.NewBackoffRetryer(retry.TimeoutRetryPolicy(cfg.RetryDelay), logger),
		logger:   logger.With(zap.String("component", "llm_client")),
	}, nil
}

// WithObserver registers a call observer, typically a metrics collector.
func (c *StructuredClient) WithObserver(o CallObserver) *StructuredClient {
	c.observer = o
	return c
}

// Extract implements Model.
func (c *StructuredClient) Extract(ctx context.Context, task Task, system, prompt string, out any) error {
	schema, ok := c.schemas[task]
	if !ok {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("task %s has no output schema", task))
	}

	model := c.cfg.Model
	if c.cfg.FastModel != "" {
		model = c.cfg.FastModel
	}
	raw, err := c.complete(ctx, task, model, system, prompt, true)
	if err != nil {
		return err
	}

	payload := ExtractJSON(raw)
	if payload == "" {
		return types.NewError(types.ErrStructuredOutput, fmt.Sprintf("%s: no JSON object in response", task)).
			WithComponent("llm")
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return types.NewError(types.ErrStructuredOutput, fmt.Sprintf("%s: malformed JSON", task)).
			WithCause(err).WithComponent("llm")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return types.NewError(types.ErrStructuredOutput,
			fmt.Sprintf("%s: schema violation: %s", task, strings.Join(msgs, "; "))).WithComponent("llm")
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return types.NewError(types.ErrStructuredOutput, fmt.Sprintf("%s: decode", task)).
			WithCause(err).WithComponent("llm")
	}
	return nil
}

// Generate implements Model.
func (c *StructuredClient) Generate(ctx context.Context, task Task, system, prompt string) (string, error) {
	out, err := c.complete(ctx, task, c.cfg.Model, system, prompt, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *StructuredClient) complete(ctx context.Context, task Task, model, system, prompt string, jsonMode bool) (string, error) {
	req := &ChatRequest{
		Model:       model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		JSONMode:    jsonMode,
		Timeout:     c.cfg.Timeout,
		Metadata:    map[string]string{MetadataTask: string(task)},
	}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: prompt})

	return retry.DoTyped(ctx, c.retryer, func() (string, error) {
		return c.attempt(ctx, task, req)
	})
}

// attempt runs one bounded call. Deadline overruns become retryable timeout errors.
func (c *StructuredClient) attempt(ctx context.Context, task Task, req *ChatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Completion(callCtx, req)
	if c.observer != nil {
		c.observer(task, time.Since(start), err)
	}

	if err != nil {
		// 调用方取消时不重试
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return "", types.NewTimeoutError("llm", err)
		}
		var te *types.Error
		if errors.As(err, &te) {
			return "", te
		}
		return "", types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s call failed", task)).
			WithCause(err).WithComponent("llm")
	}

	c.logger.Debug("model call completed",
		zap.String("task", string(task)),
		zap.String("provider", c.provider.Name()),
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.FirstContent(), nil
}

// ExtractJSON returns the outermost JSON object in s, tolerating code fences
// and surrounding prose. Returns "" when no object is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
