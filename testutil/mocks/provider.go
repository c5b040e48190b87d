// MockProvider 的 LLM 提供商测试模拟实现。
//
// 按任务标签返回脚本化响应, 支持错误注入与调用记录。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/finrag/llm"
)

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Task    llm.Task
	Request *llm.ChatRequest
	Error   error
}

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	// 按任务排队的响应, 队列只剩一个时重复使用
	responses map[llm.Task][]string
	errs      map[llm.Task]error
	fallback  string
	delay     time.Duration

	calls []MockProviderCall
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: make(map[llm.Task][]string),
		errs:      make(map[llm.Task]error),
	}
}

// WithResponse 为任务追加一条响应
func (m *MockProvider) WithResponse(task llm.Task, content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[task] = append(m.responses[task], content)
	return m
}

// WithDefault 设置未脚本化任务的响应
func (m *MockProvider) WithDefault(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = content
	return m
}

// WithError 设置任务返回错误
func (m *MockProvider) WithError(task llm.Task, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[task] = err
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return "mock" }

// Completion 返回脚本化响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	task := req.Task()

	m.mu.Lock()
	delay := m.delay
	err := m.errs[task]
	content, ok := m.next(task)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err == nil && !ok {
		err = fmt.Errorf("mock provider: no response scripted for task %q", task)
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Task: task, Request: req, Error: err})
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockProvider) next(task llm.Task) (string, bool) {
	queue := m.responses[task]
	switch len(queue) {
	case 0:
		return m.fallback, m.fallback != ""
	case 1:
		return queue[0], true
	}
	m.responses[task] = queue[1:]
	return queue[0], true
}

// Calls 返回全部调用记录
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// CallCount 返回任务的调用次数, task 为空时返回总数
func (m *MockProvider) CallCount(task llm.Task) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Task == task {
			n++
		}
	}
	return n
}

var _ llm.Provider = (*MockProvider)(nil)
