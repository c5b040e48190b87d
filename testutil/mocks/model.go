package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/finrag/llm"
)

// ExtractFunc computes a structured response from the prompt.
type ExtractFunc func(system, prompt string) (any, error)

// GenerateFunc computes a free-text response from the prompt.
type GenerateFunc func(system, prompt string) (string, error)

// MockModel 是 llm.Model 的脚本化实现.
// 结构化任务的响应经 JSON 往返写入 out, 与真实客户端的解码路径一致.
type MockModel struct {
	mu sync.Mutex

	extract  map[llm.Task][]ExtractFunc
	generate map[llm.Task][]GenerateFunc

	calls   map[llm.Task]int
	prompts map[llm.Task][]string
}

// NewMockModel 创建 MockModel
func NewMockModel() *MockModel {
	return &MockModel{
		extract:  make(map[llm.Task][]ExtractFunc),
		generate: make(map[llm.Task][]GenerateFunc),
		calls:    make(map[llm.Task]int),
		prompts:  make(map[llm.Task][]string),
	}
}

// OnExtract queues a fixed structured response. The last queued response repeats.
func (m *MockModel) OnExtract(task llm.Task, resp any) *MockModel {
	return m.OnExtractFunc(task, func(string, string) (any, error) { return resp, nil })
}

// FailExtract queues an error for a structured task.
func (m *MockModel) FailExtract(task llm.Task, err error) *MockModel {
	return m.OnExtractFunc(task, func(string, string) (any, error) { return nil, err })
}

// OnExtractFunc queues a computed structured response.
func (m *MockModel) OnExtractFunc(task llm.Task, fn ExtractFunc) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extract[task] = append(m.extract[task], fn)
	return m
}

// OnGenerate queues a fixed text response.
func (m *MockModel) OnGenerate(task llm.Task, text string) *MockModel {
	return m.OnGenerateFunc(task, func(string, string) (string, error) { return text, nil })
}

// FailGenerate queues an error for a free-text task.
func (m *MockModel) FailGenerate(task llm.Task, err error) *MockModel {
	return m.OnGenerateFunc(task, func(string, string) (string, error) { return "", err })
}

// OnGenerateFunc queues a computed text response.
func (m *MockModel) OnGenerateFunc(task llm.Task, fn GenerateFunc) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generate[task] = append(m.generate[task], fn)
	return m
}

// Extract implements llm.Model.
func (m *MockModel) Extract(ctx context.Context, task llm.Task, system, prompt string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.record(task, prompt)
	fn := popFunc(m.extract, task)
	m.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("mock model: no extract fixture for task %q", task)
	}
	resp, err := fn(system, prompt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Generate implements llm.Model.
func (m *MockModel) Generate(ctx context.Context, task llm.Task, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.record(task, prompt)
	fn := popFunc(m.generate, task)
	m.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("mock model: no generate fixture for task %q", task)
	}
	return fn(system, prompt)
}

func (m *MockModel) record(task llm.Task, prompt string) {
	m.calls[task]++
	m.prompts[task] = append(m.prompts[task], prompt)
}

func popFunc[F any](queues map[llm.Task][]F, task llm.Task) F {
	var zero F
	q := queues[task]
	switch len(q) {
	case 0:
		return zero
	case 1:
		return q[0]
	}
	queues[task] = q[1:]
	return q[0]
}

// Calls returns how many times task was invoked.
func (m *MockModel) Calls(task llm.Task) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[task]
}

// TotalCalls returns the number of calls across all tasks.
func (m *MockModel) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Prompts returns the prompts sent for task, in order.
func (m *MockModel) Prompts(task llm.Task) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts[task]...)
}

var _ llm.Model = (*MockModel)(nil)
