package agent

import (
	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
)

// 路由函数只读取状态, 不做 I/O, 可以直接在测试中穷举.

// routeAfterRoute 选择第一个数据源.
func routeAfterRoute(s WorkflowState) workflow.Node {
	switch {
	case s.FollowUp:
		return NodeGenerate
	case len(s.Entities) == 0 && s.Ambiguous && !s.Clarified:
		return NodeAwaitClarification
	case len(s.Entities) == 0 && s.Limits.WebEnabled:
		return NodeWebSearch
	default:
		return NodeRetrieveIndex
	}
}

// routeAfterGrade 在评分后决定继续补证据还是生成.
// index_searched ∧ web_searched 时总是 GENERATE.
func routeAfterGrade(s WorkflowState) workflow.Node {
	if s.IndexSearched && s.WebSearched {
		return NodeGenerate
	}
	if s.Grade != nil && s.Grade.Overall == types.GradeSufficient {
		return NodeGenerate
	}
	if !s.Limits.WebEnabled || s.WebSearched {
		return NodeGenerate
	}
	if s.Evidence.IsEmpty() {
		return NodeWebSearchFallback
	}
	return NodeGapAnalyze
}

// routeAfterGap 有可执行的定向查询时走网络补充.
func routeAfterGap(s WorkflowState) workflow.Node {
	if s.GapPlan != nil && s.GapPlan.HasGaps && len(s.GapPlan.TargetedQueries) > 0 && !s.WebSearched {
		return NodeWebSearchIntegrate
	}
	return NodeGenerate
}

// decideVerification maps a verdict to the next action under the loop limits.
func decideVerification(s WorkflowState, v answer.Verification) VerifyOutcome {
	switch {
	case v.Accepted():
		return VerifyAccepted
	case !v.Grounded:
		if s.RetryCount < s.Limits.MaxRetries {
			return VerifyRetry
		}
		return VerifyForceAccepted
	default:
		if s.Reformulations < s.Limits.MaxReformulations {
			return VerifyReformulate
		}
		return VerifyForceAccepted
	}
}

func routeAfterVerify(s WorkflowState) workflow.Node {
	switch s.VerifyOutcome {
	case VerifyRetry:
		return NodeGenerate
	case VerifyReformulate:
		return NodeReformulate
	default:
		return NodeChartDecision
	}
}

// routeAfterReformulate re-retrieves with the rewritten query. A failed
// rewrite leaves the outcome at force-accepted.
func routeAfterReformulate(s WorkflowState) workflow.Node {
	switch {
	case s.VerifyOutcome == VerifyForceAccepted:
		return NodeChartDecision
	case len(s.Entities) > 0:
		return NodeRetrieveIndex
	case s.Limits.WebEnabled:
		return NodeWebSearch
	default:
		return NodeGenerate
	}
}

func routeAfterChartDecision(s WorkflowState) workflow.Node {
	if wantsChart(s) {
		return NodeGenerateChart
	}
	return NodeFinalize
}

func wantsChart(s WorkflowState) bool {
	return s.Query.ComparisonMode && s.Limits.ChartEnabled && s.Draft != nil && !s.Draft.Insufficient
}
