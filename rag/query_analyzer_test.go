package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/testutil/mocks"
	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryAnalyzer_ComparisonTemplateSkipsModel(t *testing.T) {
	model := mocks.NewMockModel()
	a := NewQueryAnalyzer(model, nil)

	plan, err := a.Analyze(context.Background(), types.Query{
		Text:               "Compare these companies",
		ComparisonMode:     true,
		ComparisonEntities: []string{"aapl", "MSFT", "nvda"},
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyComparisonTemplate, plan.Strategy)
	assert.True(t, plan.NeedsDecomposition)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, plan.Entities)
	assert.Len(t, plan.SubQueries, 27)
	assert.Len(t, plan.SubQueriesFor("MSFT"), 9)
	assert.Zero(t, model.TotalCalls())
}

func TestQueryAnalyzer_ComparisonTemplateSingleEntity(t *testing.T) {
	model := mocks.NewMockModel()
	plan, err := NewQueryAnalyzer(model, nil).Analyze(context.Background(), types.Query{
		Text:           "How does this company stack up?",
		ComparisonMode: true,
		EntityFilter:   []string{"nvda"},
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyComparisonTemplate, plan.Strategy)
	assert.Equal(t, types.QueryTypeSingleEntity, plan.QueryType)
	assert.Equal(t, []string{"NVDA"}, plan.Entities)
	assert.Len(t, plan.SubQueries, 9)
	assert.Zero(t, model.TotalCalls())
}

func TestQueryAnalyzer_SegmentTemplate(t *testing.T) {
	model := mocks.NewMockModel()
	plan, err := NewQueryAnalyzer(model, nil).Analyze(context.Background(), types.Query{
		Text: "What is the revenue breakdown by geographic region for AAPL?",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategySegmentTemplate, plan.Strategy)
	assert.Equal(t, []string{"AAPL"}, plan.Entities)
	assert.Len(t, plan.SubQueries, 6)
	assert.Zero(t, model.TotalCalls())
}

func TestQueryAnalyzer_ModelPlan(t *testing.T) {
	model := mocks.NewMockModel().OnExtract(llm.TaskQueryPlan, types.SubQueryPlan{
		NeedsDecomposition: true,
		QueryType:          types.QueryTypeCalculation,
		Entities:           []string{"aapl"},
		SubQueries: []types.SubQuery{
			{Text: "AAPL operating income", Entity: "aapl", Concept: "operating_income"},
			{Text: "  "},
		},
	})

	plan, err := NewQueryAnalyzer(model, nil).Analyze(context.Background(), types.Query{Text: "What is Apple's operating margin?"})
	require.NoError(t, err)

	assert.Equal(t, StrategyModel, plan.Strategy)
	assert.Equal(t, types.QueryTypeCalculation, plan.QueryType)
	assert.Equal(t, []string{"AAPL"}, plan.Entities)
	require.Len(t, plan.SubQueries, 1)
	assert.Equal(t, "AAPL", plan.SubQueries[0].Entity)
	assert.Equal(t, 1, model.Calls(llm.TaskQueryPlan))
}

func TestQueryAnalyzer_DecompositionWithoutSubQueriesIsFilled(t *testing.T) {
	model := mocks.NewMockModel().OnExtract(llm.TaskQueryPlan, types.SubQueryPlan{
		NeedsDecomposition: true,
		QueryType:          types.QueryTypeMultiEntity,
	})

	plan, err := NewQueryAnalyzer(model, nil).Analyze(context.Background(), types.Query{Text: "How did AAPL and MSFT revenue change?"})
	require.NoError(t, err)
	assert.True(t, plan.NeedsDecomposition)
	assert.NotEmpty(t, plan.SubQueries)
}

func TestQueryAnalyzer_ModelFailureFallsBackToRules(t *testing.T) {
	model := mocks.NewMockModel().FailExtract(llm.TaskQueryPlan, errors.New("upstream down"))

	plan, err := NewQueryAnalyzer(model, nil).Analyze(context.Background(), types.Query{Text: "Compare NVDA vs AMD gross margin"})
	require.NoError(t, err)

	assert.Equal(t, StrategyRules, plan.Strategy)
	assert.Equal(t, []string{"NVDA", "AMD"}, plan.Entities)
	assert.Equal(t, types.QueryTypeCalculation, plan.QueryType, "margin keyword")
	require.Len(t, plan.SubQueries, 2)
	assert.Equal(t, "NVDA Compare gross margin", plan.SubQueries[0].Text)
}

func TestQueryAnalyzer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueryAnalyzer(nil, nil).Analyze(ctx, types.Query{Text: "AAPL revenue"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractTickers(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "BRK.B"}, ExtractTickers("How did $AAPL and BRK.B do in Q3 FY 2023 vs the U.S. market?"))
	assert.Empty(t, ExtractTickers("what about the company"))
}

func TestRulePlan_SingleEntityConjunctions(t *testing.T) {
	plan := RulePlan("What was TSLA revenue and what was its net income?")
	assert.Equal(t, []string{"TSLA"}, plan.Entities)
	assert.Equal(t, types.QueryTypeSingleEntity, plan.QueryType)
	require.True(t, plan.NeedsDecomposition)
	require.Len(t, plan.SubQueries, 2)
	assert.Equal(t, "TSLA what was its net income", plan.SubQueries[1].Text)
}

func TestDetectQueryType(t *testing.T) {
	assert.Equal(t, types.QueryTypeCalculation, DetectQueryType("Calculate the debt ratio"))
	assert.Equal(t, types.QueryTypeTemporalComparison, DetectQueryType("revenue trend over the last five years"))
	assert.Equal(t, types.QueryTypeGeneral, DetectQueryType("Tell me something"))
}

func TestIsAmbiguous(t *testing.T) {
	assert.True(t, IsAmbiguous("How did it perform?", nil))
	assert.True(t, IsAmbiguous("what about their margins", nil))
	assert.False(t, IsAmbiguous("How did it perform?", []string{"AAPL"}))
	assert.False(t, IsAmbiguous("How is the market doing?", nil))
	assert.False(t, IsAmbiguous("Summarize quarterly revenue", nil))
}

func TestIsFollowUp(t *testing.T) {
	terms := []string{"summarize", "elaborate", "tell me more"}
	assert.True(t, IsFollowUp("Please summarize that", terms))
	assert.True(t, IsFollowUp("Tell me more", terms))
	assert.False(t, IsFollowUp("AAPL revenue 2023", terms))
}
