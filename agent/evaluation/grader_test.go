package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/testutil/fixtures"
	"github.com/BaSui01/finrag/testutil/mocks"
	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGrader(model llm.Model) *Grader {
	return NewGrader(model, DefaultGraderConfig(), zap.NewNop())
}

func TestGrader_EmptyEvidenceSkipsModel(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel()
	var modes []string
	g := newTestGrader(model).WithObserver(func(_, mode string) { modes = append(modes, mode) })

	res, err := g.Grade(context.Background(), GradeRequest{
		Query:    "What was Apple's revenue in 2023?",
		Entities: []string{"aapl"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.GradeInsufficient, res.Overall)
	assert.False(t, res.CanAnswer)
	assert.Equal(t, 0, model.TotalCalls())
	assert.Equal(t, []string{ModeEmpty}, modes)
	cov, ok := res.CoverageFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, []string{"revenue"}, cov.MetricsMissing)
}

func TestGrader_BatchesAndMostConservative(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnExtractFunc(llm.TaskGradeBatch, func(_, prompt string) (any, error) {
		if strings.Contains(prompt, "batch 2 of 3") {
			return fixtures.BatchGrade{
				Overall: "partial", CanAnswer: true,
				Coverage: []types.CoverageAssessment{{
					Entity: "AAPL", MetricsFound: []string{"revenue"}, MetricsMissing: []string{"eps"}, Confidence: types.ConfidenceMedium,
				}},
				MissingSummary: "EPS not reported",
			}, nil
		}
		return fixtures.BatchGrade{
			Overall: "sufficient", CanAnswer: true,
			Coverage: []types.CoverageAssessment{{
				Entity: "aapl", MetricsFound: []string{"net income", "eps"}, MetricsMissing: []string{"revenue"}, Confidence: types.ConfidenceHigh,
			}},
		}, nil
	})

	res, err := newTestGrader(model).Grade(context.Background(), GradeRequest{
		Query:    "Apple revenue, net income and EPS",
		Entities: []string{"AAPL"},
		Evidence: fixtures.EvidenceSet("AAPL", 45),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, model.Calls(llm.TaskGradeBatch))
	assert.Equal(t, types.GradePartial, res.Overall)
	assert.True(t, res.CanAnswer)
	assert.Equal(t, 45, res.EvidenceCountAtGrading)
	assert.Equal(t, "EPS not reported", res.MissingSummary)

	require.Len(t, res.Coverage, 1)
	cov := res.Coverage[0]
	assert.Equal(t, "AAPL", cov.Entity)
	assert.Equal(t, []string{"eps", "net income", "revenue"}, cov.MetricsFound)
	assert.Empty(t, cov.MetricsMissing, "found in any batch wins")
	assert.Equal(t, types.ConfidenceMedium, cov.Confidence)
}

func TestGrader_AnyInsufficientBatchWins(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	call := 0
	model := mocks.NewMockModel().OnExtractFunc(llm.TaskGradeBatch, func(string, string) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		call++
		if call == 1 {
			return fixtures.BatchGrade{Overall: "insufficient", CanAnswer: false}, nil
		}
		return fixtures.SufficientBatch("MSFT"), nil
	})

	res, err := newTestGrader(model).Grade(context.Background(), GradeRequest{
		Query:    "Microsoft revenue",
		Entities: []string{"MSFT"},
		Evidence: fixtures.EvidenceSet("MSFT", 25),
	})
	require.NoError(t, err)
	assert.Equal(t, types.GradeInsufficient, res.Overall)
	assert.False(t, res.CanAnswer)
}

func TestGrader_CachedWhenEvidenceGrewLittle(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnExtract(llm.TaskGradeBatch, fixtures.SufficientBatch("AAPL"))
	var modes []string
	g := newTestGrader(model).WithObserver(func(_, mode string) { modes = append(modes, mode) })
	ctx := context.Background()

	first, err := g.Grade(ctx, GradeRequest{Query: "Apple revenue", Entities: []string{"AAPL"}, Evidence: fixtures.EvidenceSet("AAPL", 12)})
	require.NoError(t, err)
	assert.Equal(t, 1, model.Calls(llm.TaskGradeBatch))

	second, err := g.Grade(ctx, GradeRequest{
		Query: "Apple revenue", Entities: []string{"AAPL"},
		Evidence: fixtures.EvidenceSet("AAPL", 21), Previous: &first,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, model.Calls(llm.TaskGradeBatch), "grew by 9, reuse")
	assert.Equal(t, first, second)

	third, err := g.Grade(ctx, GradeRequest{
		Query: "Apple revenue", Entities: []string{"AAPL"},
		Evidence: fixtures.EvidenceSet("AAPL", 22), Previous: &first,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, model.Calls(llm.TaskGradeBatch), "grew by 10, regrade two batches")
	assert.Equal(t, 22, third.EvidenceCountAtGrading)
	assert.Equal(t, []string{ModeModel, ModeCached, ModeModel}, modes)
}

func TestGrader_EmptyGradeIsNotReused(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnExtract(llm.TaskGradeBatch, fixtures.SufficientBatch("AAPL"))
	g := newTestGrader(model)

	empty, err := g.Grade(context.Background(), GradeRequest{Query: "Apple revenue", Entities: []string{"AAPL"}})
	require.NoError(t, err)

	res, err := g.Grade(context.Background(), GradeRequest{
		Query: "Apple revenue", Entities: []string{"AAPL"},
		Evidence: fixtures.EvidenceSet("AAPL", 3), Previous: &empty,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, model.Calls(llm.TaskGradeBatch))
	assert.Equal(t, types.GradeSufficient, res.Overall)
}

func TestGrader_MissingEntityDowngrades(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnExtract(llm.TaskGradeBatch, fixtures.BatchGrade{
		Overall: "sufficient", CanAnswer: true,
		Coverage: []types.CoverageAssessment{{Entity: "NVDA", MetricsFound: []string{"gross margin"}, Confidence: types.ConfidenceHigh}},
	})

	res, err := newTestGrader(model).Grade(context.Background(), GradeRequest{
		Query:    "Compare NVDA and AMD gross margin",
		Entities: []string{"NVDA", "AMD"},
		Evidence: fixtures.EvidenceSet("NVDA", 5),
	})
	require.NoError(t, err)

	assert.Equal(t, types.GradePartial, res.Overall)
	amd, ok := res.CoverageFor("AMD")
	require.True(t, ok)
	assert.Equal(t, []string{"gross margin"}, amd.MetricsMissing)
	assert.Contains(t, res.MissingSummary, "no evidence for AMD")
	assert.Equal(t, []string{"gross margin"}, res.MissingMetrics("NVDA", "AMD"))
}

func TestGrader_FallsBackToHeuristic(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().FailExtract(llm.TaskGradeBatch,
		types.NewError(types.ErrStructuredOutput, "schema violation"))
	var modes []string
	g := newTestGrader(model).WithObserver(func(_, mode string) { modes = append(modes, mode) })

	evidence := fixtures.EvidenceSet("AAPL", 3).Merge(fixtures.EvidenceSet("MSFT", 1))
	res, err := g.Grade(context.Background(), GradeRequest{
		Query:    "Compare Apple and Microsoft revenue",
		Entities: []string{"AAPL", "MSFT"},
		Evidence: evidence,
	})
	require.NoError(t, err)

	assert.True(t, res.Heuristic)
	assert.Equal(t, types.GradePartial, res.Overall)
	assert.True(t, res.CanAnswer)
	assert.Equal(t, "limited evidence for MSFT", res.MissingSummary)
	assert.Equal(t, []string{ModeHeuristic}, modes)

	aapl, _ := res.CoverageFor("AAPL")
	assert.Equal(t, []string{"revenue"}, aapl.MetricsFound)
	msft, _ := res.CoverageFor("MSFT")
	assert.Equal(t, []string{"revenue"}, msft.MetricsMissing)
}

func TestGrader_Cancelled(t *testing.T) {
	t.Parallel()

	model := mocks.NewMockModel().OnExtract(llm.TaskGradeBatch, fixtures.SufficientBatch("AAPL"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGrader(model).Grade(ctx, GradeRequest{Query: "q", Evidence: fixtures.EvidenceSet("AAPL", 2)})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "short", truncate("short", 0))
	assert.Equal(t, "净利...", truncate("净利润增长", 8))
	assert.Equal(t, "净利润...", truncate("净利润增长", 9))
}

func TestHeuristicGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		evidence types.EvidenceSet
		entities []string
		want     types.GradeLevel
	}{
		{"three docs", fixtures.EvidenceSet("AAPL", 3), []string{"AAPL"}, types.GradeSufficient},
		{"one doc", fixtures.EvidenceSet("AAPL", 1), []string{"AAPL"}, types.GradePartial},
		{"entity absent", fixtures.EvidenceSet("AAPL", 4), []string{"AAPL", "TSLA"}, types.GradeInsufficient},
		{"no entities uses evidence entities", fixtures.EvidenceSet("NVDA", 3), nil, types.GradeSufficient},
		{"nothing", types.EvidenceSet{}, nil, types.GradeInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := HeuristicGrade(tt.evidence, tt.entities, nil)
			assert.Equal(t, tt.want, res.Overall)
			assert.True(t, res.Heuristic)
			assert.Equal(t, tt.want != types.GradeInsufficient, res.CanAnswer)
		})
	}
}
