package agent

import (
	"testing"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/testutil/fixtures"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func defaultLimits() Limits {
	return Limits{MaxRetries: 2, MaxReformulations: 1, WebEnabled: true, ChartEnabled: true}
}

func TestRouteAfterRoute(t *testing.T) {
	tests := []struct {
		name  string
		state WorkflowState
		want  workflow.Node
	}{
		{"follow-up answers from prior turn", WorkflowState{FollowUp: true, Entities: []string{"AAPL"}, Limits: defaultLimits()}, NodeGenerate},
		{"entities go to the index", WorkflowState{Entities: []string{"AAPL"}, Limits: defaultLimits()}, NodeRetrieveIndex},
		{"ambiguous asks", WorkflowState{Ambiguous: true, Limits: defaultLimits()}, NodeAwaitClarification},
		{"clarified does not ask again", WorkflowState{Ambiguous: true, Clarified: true, Limits: defaultLimits()}, NodeWebSearch},
		{"no entities searches the web", WorkflowState{Limits: defaultLimits()}, NodeWebSearch},
		{"no entities without web", WorkflowState{Limits: Limits{MaxRetries: 2}}, NodeRetrieveIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routeAfterRoute(tt.state))
		})
	}
}

func TestRouteAfterGrade(t *testing.T) {
	partial := types.GradeResult{Overall: types.GradePartial}
	sufficient := fixtures.SufficientGrade("AAPL")
	evidence := fixtures.EvidenceSet("AAPL", 2)

	tests := []struct {
		name  string
		state WorkflowState
		want  workflow.Node
	}{
		{"sufficient", WorkflowState{Grade: &sufficient, Evidence: evidence, IndexSearched: true, Limits: defaultLimits()}, NodeGenerate},
		{"partial analyzes gaps", WorkflowState{Grade: &partial, Evidence: evidence, IndexSearched: true, Limits: defaultLimits()}, NodeGapAnalyze},
		{"empty falls back to web", WorkflowState{Grade: &partial, IndexSearched: true, Limits: defaultLimits()}, NodeWebSearchFallback},
		{"both sources searched", WorkflowState{Grade: &partial, IndexSearched: true, WebSearched: true, Limits: defaultLimits()}, NodeGenerate},
		{"web already used", WorkflowState{Grade: &partial, Evidence: evidence, WebSearched: true, Limits: defaultLimits()}, NodeGenerate},
		{"web disabled", WorkflowState{Grade: &partial, IndexSearched: true, Limits: Limits{MaxRetries: 2}}, NodeGenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routeAfterGrade(tt.state))
		})
	}
}

func TestRouteAfterGap(t *testing.T) {
	withQueries := types.GapPlan{HasGaps: true, TargetedQueries: []types.TargetedQuery{{Text: "AAPL eps 2023"}}}
	noQueries := types.GapPlan{HasGaps: true}
	none := types.GapPlan{GapType: types.GapNone}

	assert.Equal(t, NodeWebSearchIntegrate, routeAfterGap(WorkflowState{GapPlan: &withQueries}))
	assert.Equal(t, NodeGenerate, routeAfterGap(WorkflowState{GapPlan: &withQueries, WebSearched: true}))
	assert.Equal(t, NodeGenerate, routeAfterGap(WorkflowState{GapPlan: &noQueries}))
	assert.Equal(t, NodeGenerate, routeAfterGap(WorkflowState{GapPlan: &none}))
	assert.Equal(t, NodeGenerate, routeAfterGap(WorkflowState{}))
}

func TestDecideVerification(t *testing.T) {
	limits := defaultLimits()
	tests := []struct {
		name           string
		retries, refms int
		v              answer.Verification
		want           VerifyOutcome
	}{
		{"accepted", 0, 0, answer.Verification{Grounded: true, Relevant: true}, VerifyAccepted},
		{"ungrounded retries", 0, 0, answer.Verification{}, VerifyRetry},
		{"ungrounded at cap", 2, 0, answer.Verification{}, VerifyForceAccepted},
		{"irrelevant reformulates", 1, 0, answer.Verification{Grounded: true}, VerifyReformulate},
		{"irrelevant at cap", 0, 1, answer.Verification{Grounded: true}, VerifyForceAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := WorkflowState{RetryCount: tt.retries, Reformulations: tt.refms, Limits: limits}
			assert.Equal(t, tt.want, decideVerification(s, tt.v))
		})
	}
}

func TestRouteAfterChartDecision(t *testing.T) {
	draft := &answer.Draft{Text: "| Metric | AAPL | MSFT |"}
	insufficient := &answer.Draft{Text: "no data", Insufficient: true}
	cmp := types.Query{ComparisonMode: true}

	assert.Equal(t, NodeGenerateChart, routeAfterChartDecision(WorkflowState{Query: cmp, Draft: draft, Limits: defaultLimits()}))
	assert.Equal(t, NodeFinalize, routeAfterChartDecision(WorkflowState{Query: cmp, Draft: insufficient, Limits: defaultLimits()}))
	assert.Equal(t, NodeFinalize, routeAfterChartDecision(WorkflowState{Draft: draft, Limits: defaultLimits()}))
	assert.Equal(t, NodeFinalize, routeAfterChartDecision(WorkflowState{Query: cmp, Draft: draft, Limits: Limits{}}))
}

// ============================================================
// 属性测试
// ============================================================

func drawState(t *rapid.T) WorkflowState {
	s := WorkflowState{
		FollowUp:       rapid.Bool().Draw(t, "follow_up"),
		Ambiguous:      rapid.Bool().Draw(t, "ambiguous"),
		Clarified:      rapid.Bool().Draw(t, "clarified"),
		IndexSearched:  rapid.Bool().Draw(t, "index_searched"),
		WebSearched:    rapid.Bool().Draw(t, "web_searched"),
		RetryCount:     rapid.IntRange(0, 3).Draw(t, "retries"),
		Reformulations: rapid.IntRange(0, 2).Draw(t, "reformulations"),
		VerifyOutcome: rapid.SampledFrom([]VerifyOutcome{
			VerifyPending, VerifyAccepted, VerifyRetry, VerifyReformulate, VerifyForceAccepted,
		}).Draw(t, "outcome"),
		Query: types.Query{ComparisonMode: rapid.Bool().Draw(t, "comparison")},
		Limits: Limits{
			MaxRetries:        rapid.IntRange(0, 3).Draw(t, "max_retries"),
			MaxReformulations: rapid.IntRange(0, 2).Draw(t, "max_reformulations"),
			WebEnabled:        rapid.Bool().Draw(t, "web"),
			ChartEnabled:      rapid.Bool().Draw(t, "chart"),
		},
	}
	if rapid.Bool().Draw(t, "has_entities") {
		s.Entities = []string{"AAPL"}
	}
	if n := rapid.IntRange(0, 3).Draw(t, "evidence"); n > 0 {
		s.Evidence = fixtures.EvidenceSet("AAPL", n)
	}
	if rapid.Bool().Draw(t, "graded") {
		s.Grade = &types.GradeResult{Overall: rapid.SampledFrom([]types.GradeLevel{
			types.GradeSufficient, types.GradePartial, types.GradeInsufficient,
		}).Draw(t, "grade")}
	}
	if rapid.Bool().Draw(t, "gap_plan") {
		s.GapPlan = &types.GapPlan{HasGaps: rapid.Bool().Draw(t, "has_gaps")}
		if rapid.Bool().Draw(t, "gap_queries") {
			s.GapPlan.TargetedQueries = []types.TargetedQuery{{Text: "AAPL eps"}}
		}
	}
	if rapid.Bool().Draw(t, "drafted") {
		s.Draft = &answer.Draft{Text: "draft", Insufficient: rapid.Bool().Draw(t, "insufficient")}
	}
	return s
}

func TestProperty_RoutesAreValidTransitions(t *testing.T) {
	routes := map[workflow.Node]func(WorkflowState) workflow.Node{
		NodeRoute:         routeAfterRoute,
		NodeGrade:         routeAfterGrade,
		NodeGapAnalyze:    routeAfterGap,
		NodeVerify:        routeAfterVerify,
		NodeReformulate:   routeAfterReformulate,
		NodeChartDecision: routeAfterChartDecision,
	}
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		for from, route := range routes {
			to := route(s)
			if !CanTransition(from, to) {
				t.Fatalf("%s routed to %s", from, to)
			}
		}
	})
}

func TestProperty_IndexAndWebAlwaysGenerate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		s.IndexSearched, s.WebSearched = true, true
		if got := routeAfterGrade(s); got != NodeGenerate {
			t.Fatalf("index and web searched but routed to %s", got)
		}
	})
}

// 生成次数上界: 1 + MaxRetries + MaxReformulations
func TestProperty_VerificationLoopIsBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := WorkflowState{Limits: Limits{
			MaxRetries:        rapid.IntRange(0, 3).Draw(t, "max_retries"),
			MaxReformulations: rapid.IntRange(0, 2).Draw(t, "max_reformulations"),
		}}
		bound := 1 + s.Limits.MaxRetries + s.Limits.MaxReformulations

		generations := 0
		for {
			generations++
			if generations > bound {
				t.Fatalf("%d generations exceed bound %d", generations, bound)
			}
			v := answer.Verification{
				Grounded: rapid.Bool().Draw(t, "grounded"),
				Relevant: rapid.Bool().Draw(t, "relevant"),
			}
			if !v.Grounded {
				v.Relevant = false
			}
			outcome := decideVerification(s, v)
			s = Reduce(s, StateUpdate{Verification: &v, Outcome: outcome, IncrementRetry: outcome == VerifyRetry})
			if outcome == VerifyReformulate {
				s = Reduce(s, StateUpdate{SearchQuery: "rewritten", Reformulated: true})
				continue
			}
			if outcome != VerifyRetry {
				break
			}
		}
		if s.RetryCount > s.Limits.MaxRetries || s.Reformulations > s.Limits.MaxReformulations {
			t.Fatalf("limits exceeded: retries=%d reformulations=%d", s.RetryCount, s.Reformulations)
		}
	})
}
