package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedProvider returns queued responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	requests  []*ChatRequest
}

func (p *scriptedProvider) push(fn func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)) {
	p.responses = append(p.responses, fn)
}

func (p *scriptedProvider) pushText(s string) {
	p.push(func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: s}}}}, nil
	})
}

func (p *scriptedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		p.mu.Unlock()
		return nil, errors.New("no scripted response")
	}
	fn := p.responses[0]
	p.responses = p.responses[1:]
	p.mu.Unlock()
	return fn(ctx, req)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestClient(t *testing.T, p Provider) *StructuredClient {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	c, err := NewStructuredClient(p, cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestStructuredClient_ExtractValid(t *testing.T) {
	p := &scriptedProvider{}
	p.pushText("```json\n{\"grounded\": true, \"reason\": \"all figures cited\"}\n```")
	c := newTestClient(t, p)

	var v GroundingVerdict
	require.NoError(t, c.Extract(context.Background(), TaskGrounding, "sys", "prompt", &v))
	assert.True(t, v.Grounded)
	assert.Equal(t, "all figures cited", v.Reason)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, TaskGrounding, req.Task())
	assert.Equal(t, "gpt-4o-mini", req.Model, "structured tasks use the fast model")
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
}

func TestStructuredClient_SchemaViolation(t *testing.T) {
	p := &scriptedProvider{}
	p.pushText(`{"overall": "great", "can_answer": true, "coverage": []}`)
	c := newTestClient(t, p)

	var out map[string]any
	err := c.Extract(context.Background(), TaskGradeBatch, "", "p", &out)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStructuredOutput))
	assert.Len(t, p.requests, 1, "schema violations are not retried")
}

func TestStructuredClient_NoJSON(t *testing.T) {
	p := &scriptedProvider{}
	p.pushText("I cannot help with that.")
	c := newTestClient(t, p)

	var v RelevanceVerdict
	err := c.Extract(context.Background(), TaskRelevance, "", "p", &v)
	assert.True(t, types.IsErrorCode(err, types.ErrStructuredOutput))
}

func TestStructuredClient_UnknownTask(t *testing.T) {
	c := newTestClient(t, &scriptedProvider{})
	var v map[string]any
	err := c.Extract(context.Background(), TaskAnswer, "", "p", &v)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestStructuredClient_TimeoutRetriedOnce(t *testing.T) {
	p := &scriptedProvider{}
	slow := func(ctx context.Context, _ *ChatRequest) (*ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.push(slow)
	p.pushText("final answer")

	var observed []error
	c := newTestClient(t, p).WithObserver(func(_ Task, _ time.Duration, err error) {
		observed = append(observed, err)
	})

	out, err := c.Generate(context.Background(), TaskAnswer, "", "q")
	require.NoError(t, err)
	assert.Equal(t, "final answer", out)
	assert.Len(t, p.requests, 2)
	require.Len(t, observed, 2)
	assert.Error(t, observed[0])
	assert.NoError(t, observed[1])
}

func TestStructuredClient_TimeoutTwiceSurfacesTimeout(t *testing.T) {
	p := &scriptedProvider{}
	slow := func(ctx context.Context, _ *ChatRequest) (*ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.push(slow)
	p.push(slow)
	p.pushText("never reached")

	_, err := newTestClient(t, p).Generate(context.Background(), TaskAnswer, "", "q")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExternalServiceTimeout))
	assert.Len(t, p.requests, 2)
}

func TestStructuredClient_UpstreamErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{}
	p.push(func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, errors.New("connection refused")
	})

	_, err := newTestClient(t, p).Generate(context.Background(), TaskAnswer, "", "q")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.Len(t, p.requests, 1)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("Sure! {\"a\":1} hope that helps"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSON("```json\n{\"a\":{\"b\":2}}\n```"))
	assert.Equal(t, "", ExtractJSON("no object here"))
}

func TestTask_Structured(t *testing.T) {
	assert.True(t, TaskQueryPlan.Structured())
	assert.True(t, TaskFinancialFields.Structured())
	assert.False(t, TaskAnswer.Structured())
}
