package agent

import (
	"fmt"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/agent/chart"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
)

// 工作流节点
const (
	NodeAnalyze            workflow.Node = "analyze"
	NodeRoute              workflow.Node = "route"
	NodeRetrieveIndex      workflow.Node = "retrieve_index"
	NodeWebSearch          workflow.Node = "web_search"
	NodeAwaitClarification workflow.Node = "await_clarification"
	NodeGrade              workflow.Node = "grade"
	NodeGapAnalyze         workflow.Node = "gap_analyze"
	NodeWebSearchFallback  workflow.Node = "web_search_fallback"
	NodeWebSearchIntegrate workflow.Node = "web_search_integrate"
	NodeGenerate           workflow.Node = "generate"
	NodeVerify             workflow.Node = "verify"
	NodeReformulate        workflow.Node = "reformulate"
	NodeChartDecision      workflow.Node = "chart_decision"
	NodeGenerateChart      workflow.Node = "generate_chart"
	NodeFinalize           workflow.Node = "finalize"
)

// validTransitions 定义合法的节点转换
var validTransitions = map[workflow.Node][]workflow.Node{
	NodeAnalyze:            {NodeRoute},
	NodeRoute:              {NodeRetrieveIndex, NodeWebSearch, NodeGenerate, NodeAwaitClarification},
	NodeRetrieveIndex:      {NodeGrade},
	NodeWebSearch:          {NodeGrade},
	NodeAwaitClarification: {workflow.Interrupt},
	NodeGrade:              {NodeGenerate, NodeGapAnalyze, NodeWebSearchFallback},
	NodeGapAnalyze:         {NodeWebSearchIntegrate, NodeGenerate},
	NodeWebSearchFallback:  {NodeGrade},
	NodeWebSearchIntegrate: {NodeGrade},
	NodeGenerate:           {NodeVerify},
	NodeVerify:             {NodeGenerate, NodeReformulate, NodeChartDecision},
	NodeReformulate:        {NodeRetrieveIndex, NodeWebSearch, NodeGenerate, NodeChartDecision},
	NodeChartDecision:      {NodeGenerateChart, NodeFinalize},
	NodeGenerateChart:      {NodeFinalize},
	NodeFinalize:           {workflow.End},
}

// CanTransition 检查节点转换是否合法
func CanTransition(from, to workflow.Node) bool {
	for _, n := range validTransitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法节点转换
type ErrInvalidTransition struct {
	From workflow.Node
	To   workflow.Node
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// validateTrace returns the first illegal transition in trace.
func validateTrace(trace []workflow.StepRecord) error {
	for _, r := range trace {
		if r.Error != "" {
			continue
		}
		if !CanTransition(r.Node, r.Next) {
			return types.NewError(types.ErrInvalidTransition, ErrInvalidTransition{From: r.Node, To: r.Next}.Error())
		}
	}
	return nil
}

// VerifyOutcome VERIFY 节点的裁决
type VerifyOutcome string

const (
	VerifyPending       VerifyOutcome = ""
	VerifyAccepted      VerifyOutcome = "accepted"
	VerifyRetry         VerifyOutcome = "retry"
	VerifyReformulate   VerifyOutcome = "reformulate"
	VerifyForceAccepted VerifyOutcome = "force_accepted"
)

// Limits 单个工作流的循环上限与开关, 随状态一起持久化
type Limits struct {
	MaxRetries        int  `json:"max_retries"`
	MaxReformulations int  `json:"max_reformulations"`
	WebEnabled        bool `json:"web_enabled"`
	ChartEnabled      bool `json:"chart_enabled"`
}

// WorkflowState 单次问答的完整状态. 只在挂起时被持久化.
type WorkflowState struct {
	WorkflowID string      `json:"workflow_id"`
	Query      types.Query `json:"query"`
	// SearchQuery 是检索使用的文本, 澄清与改写会修改它, 回答始终针对 Query.Text
	SearchQuery string             `json:"search_query"`
	Plan        types.SubQueryPlan `json:"plan"`
	Entities    []string           `json:"entities"`
	Metrics     []string           `json:"metrics,omitempty"`
	Ambiguous   bool               `json:"ambiguous,omitempty"`
	FollowUp    bool               `json:"follow_up,omitempty"`

	Evidence           types.EvidenceSet `json:"evidence"`
	MissingCollections []string          `json:"missing_collections,omitempty"`
	Grade              *types.GradeResult `json:"grade,omitempty"`
	GapPlan            *types.GapPlan     `json:"gap_plan,omitempty"`

	IndexSearched bool `json:"index_searched"`
	WebSearched   bool `json:"web_searched"`

	RetryCount     int                  `json:"retry_count"`
	Reformulations int                  `json:"reformulations"`
	Draft          *answer.Draft        `json:"draft,omitempty"`
	Verification   *answer.Verification `json:"verification,omitempty"`
	VerifyOutcome  VerifyOutcome        `json:"verify_outcome,omitempty"`

	Chart      *chart.Ref `json:"chart,omitempty"`
	ChartError string     `json:"chart_error,omitempty"`

	Suspended             bool   `json:"suspended,omitempty"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
	Clarification         string `json:"clarification,omitempty"`
	Clarified             bool   `json:"clarified,omitempty"`
	Finalized             bool   `json:"finalized,omitempty"`

	Limits Limits `json:"limits"`
}

// NewWorkflowState 为一次提问创建初始状态
func NewWorkflowState(id string, q types.Query, limits Limits) WorkflowState {
	return WorkflowState{
		WorkflowID:  id,
		Query:       q,
		SearchQuery: q.Text,
		Limits:      limits,
	}
}

// StateUpdate 节点返回的增量. 零值字段表示不修改.
type StateUpdate struct {
	Plan      *types.SubQueryPlan
	Entities  []string
	Metrics   []string
	Ambiguous *bool
	FollowUp  *bool

	SearchQuery string

	// Evidence 与现有证据合并, 从不替换
	Evidence           []types.EvidenceChunk
	MissingCollections []string

	// 只能由 false 变为 true
	IndexSearched bool
	WebSearched   bool

	Grade   *types.GradeResult
	GapPlan *types.GapPlan

	Draft          *answer.Draft
	Verification   *answer.Verification
	Outcome        VerifyOutcome
	IncrementRetry bool
	Reformulated   bool

	Chart      *chart.Ref
	ChartError string

	Suspended             bool
	ClarificationQuestion string
	Finalized             bool
}

// Reduce merges u into s and returns the new state. s is not modified.
func Reduce(s WorkflowState, u StateUpdate) WorkflowState {
	out := s
	if u.Plan != nil {
		out.Plan = *u.Plan
	}
	if u.Entities != nil {
		out.Entities = append([]string(nil), u.Entities...)
	}
	if u.Metrics != nil {
		out.Metrics = append([]string(nil), u.Metrics...)
	}
	if u.Ambiguous != nil {
		out.Ambiguous = *u.Ambiguous
	}
	if u.FollowUp != nil {
		out.FollowUp = *u.FollowUp
	}
	if u.SearchQuery != "" {
		out.SearchQuery = u.SearchQuery
	}

	if len(u.Evidence) > 0 {
		out.Evidence = s.Evidence.Merge(types.EvidenceSet{Chunks: u.Evidence})
	} else {
		out.Evidence = s.Evidence.Clone()
	}
	if len(u.MissingCollections) > 0 {
		out.MissingCollections = appendUnique(append([]string(nil), s.MissingCollections...), u.MissingCollections...)
	}

	out.IndexSearched = s.IndexSearched || u.IndexSearched
	out.WebSearched = s.WebSearched || u.WebSearched

	if u.Grade != nil {
		g := *u.Grade
		out.Grade = &g
	}
	if u.GapPlan != nil {
		p := *u.GapPlan
		out.GapPlan = &p
	}
	if u.Draft != nil {
		d := *u.Draft
		out.Draft = &d
	}
	if u.Verification != nil {
		v := *u.Verification
		out.Verification = &v
	}
	if u.Outcome != VerifyPending {
		out.VerifyOutcome = u.Outcome
	}
	if u.IncrementRetry {
		out.RetryCount++
	}
	if u.Reformulated {
		out.Reformulations++
		out.VerifyOutcome = VerifyPending
	}
	if u.Chart != nil {
		c := *u.Chart
		out.Chart = &c
	}
	if u.ChartError != "" {
		out.ChartError = u.ChartError
	}
	if u.Suspended {
		out.Suspended = true
		out.ClarificationQuestion = u.ClarificationQuestion
	}
	if u.Finalized {
		out.Finalized = true
	}
	return out
}

// MergeClarification folds the caller's reply into the suspended state.
// Tickers in the reply become the entity scope; the reply is appended to the
// search text. The state is marked clarified so the question is not asked again.
func MergeClarification(s WorkflowState, reply string, detected []string) WorkflowState {
	out := Reduce(s, StateUpdate{})
	out.Clarification = reply
	out.Clarified = true
	out.Suspended = false
	out.SearchQuery = s.Query.Text + " (" + reply + ")"
	if len(detected) > 0 {
		out.Entities = appendUnique(append([]string(nil), s.Entities...), detected...)
		out.Plan.Entities = append([]string(nil), out.Entities...)
		out.Ambiguous = false
	}
	return out
}

// Outcome 用户可见的结果类别
type Outcome string

const (
	OutcomeAnswered              Outcome = "answered"
	OutcomeInsufficientData      Outcome = "insufficient_data"
	OutcomeClarificationRequired Outcome = "clarification_required"
)

// Outcome classifies a completed or suspended state.
func (s WorkflowState) Outcome() Outcome {
	switch {
	case s.Suspended:
		return OutcomeClarificationRequired
	case s.Draft == nil || s.Draft.Insufficient:
		return OutcomeInsufficientData
	default:
		return OutcomeAnswered
	}
}

func appendUnique(list []string, vals ...string) []string {
	for _, v := range vals {
		v = types.NormalizeEntity(v)
		if v == "" {
			continue
		}
		dup := false
		for _, x := range list {
			if x == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}
