package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReformulator(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnGenerate(llm.TaskReformulate, `"Apple gross margin fiscal 2023 10-K"`)
	r := NewReformulator(model, zap.NewNop())

	got, err := r.Reformulate(context.Background(), "How profitable was Apple?", "answered revenue only")
	require.NoError(t, err)
	assert.Equal(t, "Apple gross margin fiscal 2023 10-K", got)
	assert.Contains(t, model.Prompts(llm.TaskReformulate)[0], "Why the last answer missed: answered revenue only")
}

func TestReformulator_NoNewQuery(t *testing.T) {
	t.Parallel()

	same := NewReformulator(mocks.NewMockModel().OnGenerate(llm.TaskReformulate, "how profitable was apple?"), nil)
	_, err := same.Reformulate(context.Background(), "How profitable was Apple?", "")
	assert.Error(t, err)

	failing := NewReformulator(mocks.NewMockModel().FailGenerate(llm.TaskReformulate, errors.New("boom")), nil)
	_, err = failing.Reformulate(context.Background(), "q", "")
	assert.Error(t, err)
}

func TestClarifier(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnGenerate(llm.TaskClarify, "Which company do you mean: Apple or Microsoft?")
	c := NewClarifier(model, zap.NewNop())

	q := c.Question(context.Background(), "What was revenue last year?", []string{"AAPL", "MSFT"})
	assert.Equal(t, "Which company do you mean: Apple or Microsoft?", q)
	assert.Contains(t, model.Prompts(llm.TaskClarify)[0], "Companies available: AAPL, MSFT")

	failing := NewClarifier(mocks.NewMockModel().FailGenerate(llm.TaskClarify, errors.New("down")), nil)
	assert.Equal(t, DefaultClarification, failing.Question(context.Background(), "revenue?", nil))
}
