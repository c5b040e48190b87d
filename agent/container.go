package agent

import (
	"context"
	"fmt"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/agent/chart"
	"github.com/BaSui01/finrag/agent/evaluation"
	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/internal/metrics"
	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/rag/websearch"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
)

// ============================================================
// 组件契约
// 编排器只依赖这些接口, 测试可以逐个替换.
// ============================================================

// Analyzer 生成子查询计划
type Analyzer interface {
	Analyze(ctx context.Context, q types.Query) (types.SubQueryPlan, error)
}

// Retriever 按实体检索内部索引
type Retriever interface {
	Retrieve(ctx context.Context, entities []string, plan types.SubQueryPlan, rawQuery string) (rag.RetrievalResult, error)
}

// WebSearcher 执行定向外部搜索并合并证据
type WebSearcher interface {
	Integrate(ctx context.Context, existing types.EvidenceSet, queries []types.TargetedQuery) (websearch.IntegrationResult, error)
}

// EvidenceGrader 评估证据充分性
type EvidenceGrader interface {
	Grade(ctx context.Context, req evaluation.GradeRequest) (types.GradeResult, error)
}

// GapPlanner 生成缺口补充计划
type GapPlanner interface {
	Analyze(ctx context.Context, req evaluation.GapRequest) (types.GapPlan, error)
}

// AnswerGenerator 生成回答草稿
type AnswerGenerator interface {
	Generate(ctx context.Context, req answer.GenerateRequest) (answer.Draft, error)
}

// DraftVerifier 校验草稿
type DraftVerifier interface {
	Verify(ctx context.Context, query string, draft answer.Draft, evidence types.EvidenceSet) (answer.Verification, error)
}

// QueryReformulator 改写偏题的查询
type QueryReformulator interface {
	Reformulate(ctx context.Context, query, reason string) (string, error)
}

// ClarificationAsker 生成澄清问题
type ClarificationAsker interface {
	Question(ctx context.Context, query string, known []string) string
}

// ChartBuilder 从对比表格生成图表
type ChartBuilder interface {
	FromAnswer(ctx context.Context, id, text string, table *answer.ComparisonTable) (*chart.Ref, error)
}

// ResponseCache 语义响应缓存. scope 为 types.Query.ScopeKey, 不同范围互不命中.
type ResponseCache interface {
	Lookup(ctx context.Context, conversationID, scope, query string) (*rag.CacheHit, bool)
	Store(ctx context.Context, conversationID, scope, query string, response any)
}

// ============================================================
// Dependency Injection Container
// ============================================================

// Container holds everything one orchestrator needs. Nothing in it is global.
type Container struct {
	analyzer     Analyzer
	retriever    Retriever
	web          WebSearcher
	grader       EvidenceGrader
	gaps         GapPlanner
	generator    AnswerGenerator
	verifier     DraftVerifier
	reformulator QueryReformulator
	clarifier    ClarificationAsker
	charts       ChartBuilder
	cache        ResponseCache
	checkpoints  workflow.CheckpointStore
	metrics      *metrics.Collector

	registry *rag.IndexRegistry
	pipeline config.PipelineConfig
	followUp []string
	known    []string
	closers  []func() error
	logger   *zap.Logger
}

// NewContainer creates an empty container with default pipeline limits.
func NewContainer() *Container {
	return &Container{
		pipeline: config.DefaultPipelineConfig(),
		followUp: config.DefaultCacheConfig().FollowUpTerms,
	}
}

// NewContainerWithModel wires the model-backed components over an index.
// Web search, charts, cache and metrics stay unset.
func NewContainerWithModel(model llm.Model, index rag.DocumentIndex, pipeline config.PipelineConfig, logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	compactor := answer.NewCompactor(model, answer.CompactionConfigFrom(pipeline), logger)
	retrieval := rag.DefaultRetrievalConfig()
	if pipeline.Concurrency > 0 {
		retrieval.Concurrency = pipeline.Concurrency
	}
	return NewContainer().
		WithLogger(logger).
		WithPipeline(pipeline).
		WithAnalyzer(rag.NewQueryAnalyzer(model, logger)).
		WithRetriever(rag.NewHybridRetriever(index, retrieval, logger)).
		WithGrader(evaluation.NewGrader(model, evaluation.GraderConfigFrom(pipeline), logger)).
		WithGapPlanner(evaluation.NewGapAnalyzer(model, logger)).
		WithGenerator(answer.NewGenerator(model, compactor, logger)).
		WithVerifier(answer.NewVerifier(model, compactor, logger)).
		WithReformulator(answer.NewReformulator(model, logger)).
		WithClarifier(answer.NewClarifier(model, logger)).
		WithCheckpoints(workflow.NewMemoryCheckpointStore(config.DefaultCheckpointConfig().TTL))
}

// WithAnalyzer sets the query analyzer.
func (c *Container) WithAnalyzer(a Analyzer) *Container {
	c.analyzer = a
	return c
}

// WithRetriever sets the index retriever.
func (c *Container) WithRetriever(r Retriever) *Container {
	c.retriever = r
	return c
}

// WithWebSearcher enables web search. nil disables it.
func (c *Container) WithWebSearcher(w WebSearcher) *Container {
	c.web = w
	return c
}

// WithGrader sets the evidence grader.
func (c *Container) WithGrader(g EvidenceGrader) *Container {
	c.grader = g
	return c
}

// WithGapPlanner sets the gap analyzer.
func (c *Container) WithGapPlanner(g GapPlanner) *Container {
	c.gaps = g
	return c
}

// WithGenerator sets the answer generator.
func (c *Container) WithGenerator(g AnswerGenerator) *Container {
	c.generator = g
	return c
}

// WithVerifier sets the verifier.
func (c *Container) WithVerifier(v DraftVerifier) *Container {
	c.verifier = v
	return c
}

// WithReformulator sets the query reformulator.
func (c *Container) WithReformulator(r QueryReformulator) *Container {
	c.reformulator = r
	return c
}

// WithClarifier sets the clarification generator.
func (c *Container) WithClarifier(a ClarificationAsker) *Container {
	c.clarifier = a
	return c
}

// WithCharts enables chart generation. nil disables it.
func (c *Container) WithCharts(b ChartBuilder) *Container {
	c.charts = b
	return c
}

// WithCache enables the semantic response cache. nil disables it.
func (c *Container) WithCache(rc ResponseCache) *Container {
	c.cache = rc
	return c
}

// WithCheckpoints sets the suspension store.
func (c *Container) WithCheckpoints(s workflow.CheckpointStore) *Container {
	c.checkpoints = s
	return c
}

// WithMetrics sets the metrics collector.
func (c *Container) WithMetrics(m *metrics.Collector) *Container {
	c.metrics = m
	return c
}

// WithRegistry exposes the index registry for ingestion.
func (c *Container) WithRegistry(r *rag.IndexRegistry) *Container {
	c.registry = r
	return c
}

// WithPipeline sets loop limits and budgets.
func (c *Container) WithPipeline(p config.PipelineConfig) *Container {
	c.pipeline = p
	return c
}

// WithFollowUpTerms sets the terms that mark a pure follow-up.
func (c *Container) WithFollowUpTerms(terms []string) *Container {
	c.followUp = terms
	return c
}

// WithLogger sets the logger.
func (c *Container) WithLogger(logger *zap.Logger) *Container {
	c.logger = logger
	return c
}

// OnClose registers a cleanup function run by Close in reverse order.
func (c *Container) OnClose(fn func() error) *Container {
	c.closers = append(c.closers, fn)
	return c
}

// Registry returns the index registry, or nil when the container was built
// over a different index.
func (c *Container) Registry() *rag.IndexRegistry { return c.registry }

// Metrics returns the collector, or nil.
func (c *Container) Metrics() *metrics.Collector { return c.metrics }

// Logger returns the logger, never nil.
func (c *Container) Logger() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// Validate checks that the required components are present.
func (c *Container) Validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"analyzer", c.analyzer != nil},
		{"retriever", c.retriever != nil},
		{"grader", c.grader != nil},
		{"gap planner", c.gaps != nil},
		{"generator", c.generator != nil},
		{"verifier", c.verifier != nil},
		{"reformulator", c.reformulator != nil},
		{"clarifier", c.clarifier != nil},
		{"checkpoint store", c.checkpoints != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("container: %s is required", r.name)
		}
	}
	return nil
}

// Close releases resources registered with OnClose.
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func (c *Container) limits() Limits {
	return Limits{
		MaxRetries:        c.pipeline.MaxRetries,
		MaxReformulations: c.pipeline.MaxReformulations,
		WebEnabled:        c.web != nil,
		ChartEnabled:      c.charts != nil,
	}
}

// WithKnownEntities lists the indexed entities offered in clarification questions.
func (c *Container) WithKnownEntities(entities []string) *Container {
	c.known = entities
	return c
}
