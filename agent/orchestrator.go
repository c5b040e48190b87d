package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/agent/chart"
	"github.com/BaSui01/finrag/agent/evaluation"
	"github.com/BaSui01/finrag/internal/metrics"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/rag/websearch"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Response 返回给调用方的最终结果
type Response struct {
	WorkflowID     string  `json:"workflow_id"`
	ConversationID string  `json:"conversation_id"`
	Outcome        Outcome `json:"outcome"`

	Answer     string                   `json:"answer,omitempty"`
	Table      *answer.ComparisonTable  `json:"table,omitempty"`
	Provenance []types.Provenance       `json:"provenance,omitempty"`
	Grade      *types.GradeResult       `json:"grade,omitempty"`
	Verify     *answer.Verification     `json:"verification,omitempty"`
	Chart      *chart.Ref               `json:"chart,omitempty"`
	ChartError string                   `json:"chart_error,omitempty"`

	ClarificationQuestion string `json:"clarification_question,omitempty"`

	IndexSearched  bool          `json:"index_searched"`
	WebSearched    bool          `json:"web_searched"`
	VerifyOutcome  VerifyOutcome `json:"verify_outcome,omitempty"`
	RetryCount     int           `json:"retry_count"`
	Reformulations int           `json:"reformulations"`
	Cached         bool          `json:"cached,omitempty"`

	Trace    []workflow.StepRecord `json:"trace,omitempty"`
	Steps    int                   `json:"steps"`
	Duration time.Duration         `json:"duration"`
}

// Orchestrator 驱动问答状态机. 并发调用 Ask 是安全的, 每次运行持有独立状态.
type Orchestrator struct {
	c       *Container
	graph   *workflow.Graph[WorkflowState, StateUpdate]
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewOrchestrator validates the container and builds the workflow graph.
func NewOrchestrator(c *Container) (*Orchestrator, error) {
	if c == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger := c.Logger().With(zap.String("component", "orchestrator"))

	collector := c.metrics
	if collector == nil {
		collector = metrics.NewCollectorWithRegisterer(MetricsNamespace, prometheus.NewRegistry(), logger)
	}

	o := &Orchestrator{c: c, metrics: collector, logger: logger}
	o.graph = o.buildGraph()
	if err := o.graph.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) buildGraph() *workflow.Graph[WorkflowState, StateUpdate] {
	g := workflow.NewGraph[WorkflowState, StateUpdate]("financial_qa", Reduce, o.c.Logger()).
		WithMaxSteps(o.c.pipeline.MaxSteps).
		WithObserver(func(node workflow.Node, d time.Duration, err error) {
			o.metrics.RecordStep(string(node), d, err)
		})

	g.AddNode(NodeAnalyze, o.analyze).
		AddNode(NodeRoute, noop).
		AddNode(NodeRetrieveIndex, o.retrieveIndex).
		AddNode(NodeWebSearch, o.webSearch).
		AddNode(NodeAwaitClarification, o.awaitClarification).
		AddNode(NodeGrade, o.grade).
		AddNode(NodeGapAnalyze, o.gapAnalyze).
		AddNode(NodeWebSearchFallback, o.webSearch).
		AddNode(NodeWebSearchIntegrate, o.webSearchIntegrate).
		AddNode(NodeGenerate, o.generate).
		AddNode(NodeVerify, o.verify).
		AddNode(NodeReformulate, o.reformulate).
		AddNode(NodeChartDecision, noop).
		AddNode(NodeGenerateChart, o.generateChart).
		AddNode(NodeFinalize, finalize)

	g.SetEntry(NodeAnalyze).
		AddEdge(NodeAnalyze, NodeRoute).
		AddConditionalEdge(NodeRoute, routeAfterRoute).
		AddEdge(NodeRetrieveIndex, NodeGrade).
		AddEdge(NodeWebSearch, NodeGrade).
		AddInterrupt(NodeAwaitClarification, NodeRoute).
		AddConditionalEdge(NodeGrade, routeAfterGrade).
		AddConditionalEdge(NodeGapAnalyze, routeAfterGap).
		AddEdge(NodeWebSearchFallback, NodeGrade).
		AddEdge(NodeWebSearchIntegrate, NodeGrade).
		AddEdge(NodeGenerate, NodeVerify).
		AddConditionalEdge(NodeVerify, routeAfterVerify).
		AddConditionalEdge(NodeReformulate, routeAfterReformulate).
		AddConditionalEdge(NodeChartDecision, routeAfterChartDecision).
		AddEdge(NodeGenerateChart, NodeFinalize).
		AddEdge(NodeFinalize, workflow.End)
	return g
}

// ============================================================
// 入口
// ============================================================

// Ask 执行一次完整问答. 语义缓存命中时不运行状态机.
func (o *Orchestrator) Ask(ctx context.Context, q types.Query) (*Response, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if resp, ok := o.cached(ctx, q, start); ok {
		return resp, nil
	}

	id := uuid.NewString()
	logger := o.logger.With(zap.String("workflow_id", id), zap.String("conversation_id", q.ConversationID))
	logger.Info("workflow started", zap.Bool("comparison_mode", q.ComparisonMode))

	state := NewWorkflowState(id, q, o.c.limits())
	res, err := o.graph.Run(ctx, state)
	return o.finish(ctx, res, err, start, logger)
}

// Resume 用调用方的澄清回复恢复挂起的工作流. 已澄清的工作流不会再次挂起.
func (o *Orchestrator) Resume(ctx context.Context, workflowID, reply string) (*Response, error) {
	start := time.Now()
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "clarification reply is empty")
	}

	cp, err := o.c.checkpoints.Load(ctx, workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrCheckpointNotFound) {
			return nil, types.NewError(types.ErrCheckpointNotFound,
				fmt.Sprintf("no suspended workflow %s", workflowID)).WithCause(err)
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var state WorkflowState
	if err := cp.DecodeState(&state); err != nil {
		return nil, err
	}
	state = MergeClarification(state, reply, clarifiedEntities(reply))

	logger := o.logger.With(zap.String("workflow_id", workflowID), zap.String("conversation_id", cp.ConversationID))
	logger.Info("workflow resumed",
		zap.String("resume_at", string(cp.ResumeAt)),
		zap.Strings("entities", state.Entities))

	res, err := o.graph.RunFrom(ctx, state, cp.ResumeAt)
	resp, err := o.finish(ctx, res, err, start, logger)
	if err != nil {
		// 检查点保留, 调用方可重试
		return nil, err
	}
	if res.Status != workflow.StatusSuspended {
		if err := o.c.checkpoints.Delete(ctx, workflowID); err != nil {
			logger.Warn("failed to delete checkpoint", zap.Error(err))
		}
	}
	return resp, nil
}

// clarifiedEntities 从回复中取实体: 优先 ticker, 单个词的回复视为实体名.
func clarifiedEntities(reply string) []string {
	if tickers := rag.ExtractTickers(reply); len(tickers) > 0 {
		return tickers
	}
	fields := strings.Fields(reply)
	if len(fields) == 1 {
		if e := strings.Trim(fields[0], ".,!?;:\"'"); e != "" {
			return []string{e}
		}
	}
	return nil
}

func (o *Orchestrator) cached(ctx context.Context, q types.Query, start time.Time) (*Response, bool) {
	if o.c.cache == nil {
		return nil, false
	}
	hit, ok := o.c.cache.Lookup(ctx, q.ConversationID, q.ScopeKey(), q.Text)
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(hit.Response, &resp); err != nil {
		o.logger.Warn("discarding undecodable cache entry", zap.Error(err))
		return nil, false
	}
	resp.ConversationID = q.ConversationID
	resp.Cached = true
	resp.Duration = time.Since(start)
	o.metrics.RecordWorkflow("cached", resp.Duration)
	o.logger.Info("answered from semantic cache",
		zap.String("conversation_id", q.ConversationID),
		zap.Float64("similarity", hit.Similarity))
	return &resp, true
}

func (o *Orchestrator) finish(ctx context.Context, res workflow.Result[WorkflowState], runErr error, start time.Time, logger *zap.Logger) (*Response, error) {
	for _, r := range res.Trace {
		if r.Next != "" {
			o.metrics.RecordTransition(string(r.Node), string(r.Next))
		}
	}

	if runErr != nil {
		o.metrics.RecordWorkflow(string(res.Status), time.Since(start))
		logger.Warn("workflow did not complete",
			zap.String("status", string(res.Status)),
			zap.String("last_node", string(res.LastNode)),
			zap.Int("steps", res.Steps),
			zap.Error(runErr))
		if errors.Is(runErr, workflow.ErrStepLimitExceeded) {
			return nil, types.NewError(types.ErrStepLimitExceeded, "workflow exceeded its step limit").
				WithCause(runErr).WithComponent("orchestrator")
		}
		return nil, runErr
	}

	if err := validateTrace(res.Trace); err != nil {
		logger.Error("illegal transition in trace", zap.Error(err))
		return nil, err
	}

	state := res.State
	if res.Status == workflow.StatusSuspended {
		cp, err := workflow.NewCheckpoint(state.WorkflowID, state.Query.ConversationID, res.ResumeAt, state)
		if err != nil {
			return nil, err
		}
		if err := o.c.checkpoints.Save(ctx, cp); err != nil {
			return nil, types.NewServiceUnavailableError("checkpoint", err)
		}
	}

	resp := newResponse(res, time.Since(start))
	o.metrics.RecordWorkflow(string(resp.Outcome), resp.Duration)
	logger.Info("workflow finished",
		zap.String("outcome", string(resp.Outcome)),
		zap.Int("steps", res.Steps),
		zap.Int("evidence", state.Evidence.Len()),
		zap.Bool("index_searched", state.IndexSearched),
		zap.Bool("web_searched", state.WebSearched),
		zap.Duration("duration", resp.Duration))

	if o.c.cache != nil && resp.Outcome == OutcomeAnswered && !state.FollowUp && !state.Clarified {
		o.c.cache.Store(ctx, state.Query.ConversationID, state.Query.ScopeKey(), state.Query.Text, resp)
	}
	return resp, nil
}

func newResponse(res workflow.Result[WorkflowState], d time.Duration) *Response {
	s := res.State
	resp := &Response{
		WorkflowID:            s.WorkflowID,
		ConversationID:        s.Query.ConversationID,
		Outcome:               s.Outcome(),
		Provenance:            s.Evidence.Provenance(),
		Grade:                 s.Grade,
		Verify:                s.Verification,
		Chart:                 s.Chart,
		ChartError:            s.ChartError,
		ClarificationQuestion: s.ClarificationQuestion,
		IndexSearched:         s.IndexSearched,
		WebSearched:           s.WebSearched,
		VerifyOutcome:         s.VerifyOutcome,
		RetryCount:            s.RetryCount,
		Reformulations:        s.Reformulations,
		Trace:                 res.Trace,
		Steps:                 res.Steps,
		Duration:              d,
	}
	if s.Draft != nil {
		resp.Answer = s.Draft.Text
		resp.Table = s.Draft.Table
	}
	return resp
}

// ============================================================
// 节点
// ============================================================

func noop(context.Context, WorkflowState) (StateUpdate, error) { return StateUpdate{}, nil }

func finalize(context.Context, WorkflowState) (StateUpdate, error) {
	return StateUpdate{Finalized: true}, nil
}

func (o *Orchestrator) analyze(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	plan, err := o.c.analyzer.Analyze(ctx, s.Query)
	if err != nil {
		return StateUpdate{}, err
	}
	detected := plan.Entities
	if len(detected) == 0 {
		detected = rag.ExtractTickers(s.Query.Text)
	}
	entities := rag.ResolveEntities(s.Query, detected)
	plan.Entities = entities

	ambiguous := rag.IsAmbiguous(s.Query.Text, entities)
	followUp := s.Query.PriorAnswer != "" && rag.IsFollowUp(s.Query.Text, o.c.followUp)

	o.logger.Debug("query analyzed",
		zap.String("workflow_id", s.WorkflowID),
		zap.String("query_type", string(plan.QueryType)),
		zap.String("strategy", plan.Strategy),
		zap.Strings("entities", entities),
		zap.Bool("ambiguous", ambiguous),
		zap.Bool("follow_up", followUp))

	return StateUpdate{
		Plan:      &plan,
		Entities:  nonNil(entities),
		Metrics:   nonNil(evaluation.MetricsInText(s.Query.Text)),
		Ambiguous: &ambiguous,
		FollowUp:  &followUp,
	}, nil
}

func (o *Orchestrator) retrieveIndex(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	plan := s.Plan
	if s.Reformulations > 0 {
		// 改写后的查询不再使用原计划的子查询
		plan = types.SubQueryPlan{QueryType: s.Plan.QueryType, Entities: s.Entities}
	}
	res, err := o.c.retriever.Retrieve(ctx, s.Entities, plan, s.SearchQuery)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		o.logger.Warn("index retrieval failed", zap.String("workflow_id", s.WorkflowID), zap.Error(err))
		return StateUpdate{IndexSearched: true}, nil
	}
	o.metrics.RecordRetrieval("index", res.Evidence.Len(), len(res.Stats.MissingCollections))
	return StateUpdate{
		Evidence:           res.Evidence.Chunks,
		MissingCollections: res.Stats.MissingCollections,
		IndexSearched:      true,
	}, nil
}

// webSearch 用于初始外部搜索与空证据兜底.
func (o *Orchestrator) webSearch(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	return o.integrate(ctx, s, websearch.TargetedFromPlan(s.Plan, s.Entities, s.SearchQuery))
}

func (o *Orchestrator) webSearchIntegrate(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	var queries []types.TargetedQuery
	if s.GapPlan != nil {
		queries = s.GapPlan.TargetedQueries
	}
	return o.integrate(ctx, s, queries)
}

func (o *Orchestrator) integrate(ctx context.Context, s WorkflowState, queries []types.TargetedQuery) (StateUpdate, error) {
	if o.c.web == nil || len(queries) == 0 {
		return StateUpdate{WebSearched: true}, nil
	}
	res, err := o.c.web.Integrate(ctx, s.Evidence, queries)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		o.logger.Warn("web search failed", zap.String("workflow_id", s.WorkflowID), zap.Error(err))
		return StateUpdate{WebSearched: true}, nil
	}
	o.metrics.RecordRetrieval("web", res.Added, 0)
	return StateUpdate{Evidence: res.Evidence.Chunks, WebSearched: true}, nil
}

func (o *Orchestrator) grade(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	g, err := o.c.grader.Grade(ctx, evaluation.GradeRequest{
		Query:    s.Query.Text,
		Entities: s.Entities,
		Metrics:  s.Metrics,
		Evidence: s.Evidence,
		Previous: s.Grade,
	})
	if err != nil {
		return StateUpdate{}, err
	}
	return StateUpdate{Grade: &g}, nil
}

func (o *Orchestrator) gapAnalyze(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	req := evaluation.GapRequest{
		Query:    s.Query.Text,
		Entities: s.Entities,
		Evidence: s.Evidence,
	}
	if s.Grade != nil {
		req.Grade = *s.Grade
	}
	plan, err := o.c.gaps.Analyze(ctx, req)
	if err != nil {
		return StateUpdate{}, err
	}
	return StateUpdate{GapPlan: &plan}, nil
}

func (o *Orchestrator) generate(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	req := answer.GenerateRequest{
		Query:          s.Query.Text,
		QueryType:      s.Plan.QueryType,
		Entities:       s.Entities,
		Metrics:        s.Metrics,
		ComparisonMode: s.Query.ComparisonMode,
		Evidence:       s.Evidence,
		Grade:          s.Grade,
	}
	if s.FollowUp {
		req.PriorAnswer = s.Query.PriorAnswer
	}
	if s.VerifyOutcome == VerifyRetry && s.Verification != nil {
		req.Feedback = s.Verification.Reason
	}
	d, err := o.c.generator.Generate(ctx, req)
	if err != nil {
		return StateUpdate{}, err
	}
	return StateUpdate{Draft: &d}, nil
}

func (o *Orchestrator) verify(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	var draft answer.Draft
	if s.Draft != nil {
		draft = *s.Draft
	}
	v, err := o.c.verifier.Verify(ctx, s.Query.Text, draft, s.Evidence)
	if err != nil {
		return StateUpdate{}, err
	}

	outcome := decideVerification(s, v)
	switch outcome {
	case VerifyRetry:
		o.metrics.RecordVerificationRetry()
	case VerifyForceAccepted:
		o.logger.Warn("accepting draft after exhausting verification loops",
			zap.String("workflow_id", s.WorkflowID),
			zap.Int("retries", s.RetryCount),
			zap.Int("reformulations", s.Reformulations),
			zap.String("reason", v.Reason))
	}
	return StateUpdate{
		Verification:   &v,
		Outcome:        outcome,
		IncrementRetry: outcome == VerifyRetry,
	}, nil
}

func (o *Orchestrator) reformulate(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	var reason string
	if s.Verification != nil {
		reason = s.Verification.Reason
	}
	rewrite, err := o.c.reformulator.Reformulate(ctx, s.Query.Text, reason)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		o.logger.Warn("reformulation failed, accepting draft",
			zap.String("workflow_id", s.WorkflowID), zap.Error(err))
		return StateUpdate{Outcome: VerifyForceAccepted}, nil
	}
	return StateUpdate{SearchQuery: rewrite, Reformulated: true}, nil
}

// generateChart 失败不影响回答, 只记录在状态中.
func (o *Orchestrator) generateChart(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	if o.c.charts == nil || s.Draft == nil {
		return StateUpdate{}, nil
	}
	ref, err := o.c.charts.FromAnswer(ctx, s.WorkflowID, s.Draft.Text, s.Draft.Table)
	if err != nil {
		if ctx.Err() != nil {
			return StateUpdate{}, ctx.Err()
		}
		o.logger.Warn("chart generation failed",
			zap.String("workflow_id", s.WorkflowID),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return StateUpdate{ChartError: err.Error()}, nil
	}
	return StateUpdate{Chart: ref}, nil
}

func (o *Orchestrator) awaitClarification(ctx context.Context, s WorkflowState) (StateUpdate, error) {
	question := o.c.clarifier.Question(ctx, s.Query.Text, o.c.known)
	if ctx.Err() != nil {
		return StateUpdate{}, ctx.Err()
	}
	return StateUpdate{Suspended: true, ClarificationQuestion: question}, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
