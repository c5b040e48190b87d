package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
)

// Grade modes reported to the observer.
const (
	ModeModel     = "model"
	ModeHeuristic = "heuristic"
	ModeCached    = "cached"
	ModeEmpty     = "empty"
)

// heuristicSufficientDocs 启发式评分中单个实体视为充分所需的文档数
const heuristicSufficientDocs = 3

// fallbackMetric is used for a missing entity when the question names no metric.
const fallbackMetric = "key financials"

// GraderConfig 评分器配置
type GraderConfig struct {
	BatchSize     int `json:"batch_size"`
	Concurrency   int `json:"concurrency"`
	RegradeDelta  int `json:"regrade_delta"`
	MaxChunkChars int `json:"max_chunk_chars"` // 单条证据在评分提示中的截断长度
}

// DefaultGraderConfig 返回默认配置
func DefaultGraderConfig() GraderConfig {
	return GraderConfigFrom(config.DefaultPipelineConfig())
}

// GraderConfigFrom maps pipeline settings.
func GraderConfigFrom(p config.PipelineConfig) GraderConfig {
	return GraderConfig{
		BatchSize:     p.GradeBatchSize,
		Concurrency:   p.Concurrency,
		RegradeDelta:  p.RegradeDelta,
		MaxChunkChars: p.SmallItemChars,
	}
}

// GradeRequest 一次评分的输入.
type GradeRequest struct {
	Query    string
	Entities []string // entities in question, normalized or not
	Metrics  []string // metrics the question asks for; derived from Query when empty
	Evidence types.EvidenceSet
	// Previous is the grade currently held by the workflow, if any.
	Previous *types.GradeResult
}

// Grader 证据充分性评分器
type Grader struct {
	model    llm.Model
	cfg      GraderConfig
	observer func(level, mode string)
	logger   *zap.Logger
}

// NewGrader 创建评分器
func NewGrader(model llm.Model, cfg GraderConfig, logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultGraderConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workflow.DefaultConcurrency
	}
	if cfg.RegradeDelta <= 0 {
		cfg.RegradeDelta = def.RegradeDelta
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = def.MaxChunkChars
	}
	return &Grader{
		model:  model,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "grader")),
	}
}

// WithObserver registers a callback receiving (overall level, mode) per grading.
func (g *Grader) WithObserver(fn func(level, mode string)) *Grader {
	g.observer = fn
	return g
}

type batchGrade struct {
	Overall        types.GradeLevel           `json:"overall"`
	CanAnswer      bool                       `json:"can_answer"`
	Coverage       []types.CoverageAssessment `json:"coverage"`
	MissingSummary string                     `json:"missing_summary"`
}

// Grade scores the evidence. It never fails: model failures fall back to
// heuristic grading and only cancellation is returned as an error.
func (g *Grader) Grade(ctx context.Context, req GradeRequest) (types.GradeResult, error) {
	entities := normalizeEntities(req.Entities)
	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = MetricsInText(req.Query)
	}

	n := req.Evidence.Len()
	if n == 0 {
		res := emptyGrade(entities, metrics)
		g.observe(res.Overall, ModeEmpty)
		return res, nil
	}

	if prev := req.Previous; prev != nil && prev.EvidenceCountAtGrading > 0 &&
		n >= prev.EvidenceCountAtGrading && n-prev.EvidenceCountAtGrading < g.cfg.RegradeDelta {
		g.logger.Debug("reusing cached grade",
			zap.Int("evidence", n),
			zap.Int("graded_at", prev.EvidenceCountAtGrading))
		g.observe(prev.Overall, ModeCached)
		return *prev, nil
	}

	batches := splitBatches(req.Evidence.Sorted().Chunks, g.cfg.BatchSize)
	grades, errs := workflow.FanOut(ctx, batches, g.cfg.Concurrency,
		func(ctx context.Context, i int, batch []types.EvidenceChunk) (batchGrade, error) {
			return g.gradeBatch(ctx, req.Query, entities, metrics, i, len(batches), batch)
		})
	if err := ctx.Err(); err != nil {
		return types.GradeResult{}, err
	}

	if err := workflow.FirstError(errs); err != nil {
		g.logger.Warn("batch grading failed, using heuristic grading",
			zap.String("code", string(types.ErrGradingFailure)),
			zap.Int("failed_batches", workflow.CountErrors(errs)),
			zap.Int("batches", len(batches)),
			zap.Error(err))
		res := HeuristicGrade(req.Evidence, entities, metrics)
		g.observe(res.Overall, ModeHeuristic)
		return res, nil
	}

	res := aggregate(grades, req.Evidence, entities, metrics)
	g.logger.Info("evidence graded",
		zap.String("overall", string(res.Overall)),
		zap.Bool("can_answer", res.CanAnswer),
		zap.Int("evidence", n),
		zap.Int("batches", len(batches)))
	g.observe(res.Overall, ModeModel)
	return res, nil
}

func (g *Grader) observe(level types.GradeLevel, mode string) {
	if g.observer != nil {
		g.observer(string(level), mode)
	}
}

const graderSystemPrompt = `You grade whether retrieved financial evidence is sufficient to answer a question.
Judge only from the evidence shown. Report per entity which requested metrics are present and which are missing.
Respond with a single JSON object.`

var gradePromptTemplate = template.Must(template.New("grade").Parse(`## Question
{{.Query}}

## Entities in question
{{range .Entities}}- {{.}}
{{else}}- (none specified)
{{end}}
## Requested metrics
{{range .Metrics}}- {{.}}
{{else}}- infer from the question
{{end}}
## Evidence batch {{.Batch}} of {{.Batches}}
{{range $i, $c := .Chunks}}
[{{$i}}] entity={{$c.Entity}} source={{$c.Source}} ref={{$c.DocumentRef}}
{{$c.Content}}
{{end}}
## Output
{"overall": "sufficient|partial|insufficient", "can_answer": bool,
 "coverage": [{"entity": "...", "metrics_found": [...], "metrics_missing": [...], "years_covered": [...], "confidence": "high|medium|low"}],
 "missing_summary": "..."}`))

func (g *Grader) gradeBatch(ctx context.Context, query string, entities, metrics []string, idx, total int, batch []types.EvidenceChunk) (batchGrade, error) {
	chunks := make([]types.EvidenceChunk, len(batch))
	for i, c := range batch {
		c.Content = truncate(c.Content, g.cfg.MaxChunkChars)
		chunks[i] = c
	}

	var buf bytes.Buffer
	if err := gradePromptTemplate.Execute(&buf, map[string]any{
		"Query":    query,
		"Entities": entities,
		"Metrics":  metrics,
		"Batch":    idx + 1,
		"Batches":  total,
		"Chunks":   chunks,
	}); err != nil {
		return batchGrade{}, fmt.Errorf("render grade prompt: %w", err)
	}

	var out batchGrade
	if err := g.model.Extract(ctx, llm.TaskGradeBatch, graderSystemPrompt, buf.String(), &out); err != nil {
		return batchGrade{}, err
	}
	return out, nil
}

// aggregate applies the most-conservative rule and merges per-entity coverage.
func aggregate(grades []batchGrade, evidence types.EvidenceSet, entities, metrics []string) types.GradeResult {
	levels := make([]types.GradeLevel, 0, len(grades))
	canAnswer := true
	var summaries []string
	merged := make(map[string]types.CoverageAssessment)

	for _, b := range grades {
		levels = append(levels, b.Overall)
		canAnswer = canAnswer && b.CanAnswer
		if s := strings.TrimSpace(b.MissingSummary); s != "" {
			summaries = appendUniqueString(summaries, s)
		}
		for _, c := range b.Coverage {
			e := types.NormalizeEntity(c.Entity)
			if e == "" {
				continue
			}
			c.Entity = e
			if prev, ok := merged[e]; ok {
				merged[e] = types.MergeCoverage(prev, c)
			} else {
				merged[e] = c.Normalize()
			}
		}
	}

	overall := types.MostConservative(levels...)

	// 问题涉及但没有任何证据的实体: 其请求指标全部缺失
	counts := evidence.CountByEntity()
	var absent []string
	for _, e := range entities {
		if counts[e] > 0 {
			continue
		}
		absent = append(absent, e)
		merged[e] = types.MergeCoverage(merged[e], types.CoverageAssessment{
			Entity:         e,
			MetricsMissing: metricsOrFallback(metrics),
			Confidence:     types.ConfidenceLow,
		})
	}
	if len(absent) > 0 {
		overall = types.MostConservative(overall, types.GradePartial)
		summaries = appendUniqueString(summaries, "no evidence for "+strings.Join(absent, ", "))
	}

	res := types.GradeResult{
		Overall:                overall,
		CanAnswer:              canAnswer && overall != types.GradeInsufficient,
		Coverage:               sortedCoverage(merged),
		MissingSummary:         strings.Join(summaries, "; "),
		EvidenceCountAtGrading: evidence.Len(),
	}
	return res
}

// HeuristicGrade grades by document count per entity: at least 3 documents is
// sufficient, 1-2 partial, none insufficient. Used when the model is unavailable.
func HeuristicGrade(evidence types.EvidenceSet, entities, metrics []string) types.GradeResult {
	entities = normalizeEntities(entities)
	counts := evidence.CountByEntity()
	if len(entities) == 0 {
		entities = evidence.Entities()
	}
	metrics = metricsOrFallback(metrics)

	var levels []types.GradeLevel
	var coverage []types.CoverageAssessment
	var thin, none []string
	for _, e := range entities {
		n := counts[e]
		c := types.CoverageAssessment{Entity: e, Confidence: types.ConfidenceLow}
		switch {
		case n >= heuristicSufficientDocs:
			levels = append(levels, types.GradeSufficient)
			c.MetricsFound = metrics
		case n > 0:
			levels = append(levels, types.GradePartial)
			c.MetricsMissing = metrics
			thin = append(thin, e)
		default:
			levels = append(levels, types.GradeInsufficient)
			c.MetricsMissing = metrics
			none = append(none, e)
		}
		coverage = append(coverage, c.Normalize())
	}

	overall := types.MostConservative(levels...)
	if len(entities) == 0 {
		// 无实体时只看总量
		switch n := evidence.Len(); {
		case n >= heuristicSufficientDocs:
			overall = types.GradeSufficient
		case n > 0:
			overall = types.GradePartial
		}
	}

	var summary []string
	if len(none) > 0 {
		summary = append(summary, "no evidence for "+strings.Join(none, ", "))
	}
	if len(thin) > 0 {
		summary = append(summary, "limited evidence for "+strings.Join(thin, ", "))
	}

	return types.GradeResult{
		Overall:                overall,
		CanAnswer:              overall != types.GradeInsufficient,
		Coverage:               coverage,
		MissingSummary:         strings.Join(summary, "; "),
		EvidenceCountAtGrading: evidence.Len(),
		Heuristic:              true,
	}
}

func emptyGrade(entities, metrics []string) types.GradeResult {
	res := types.GradeResult{
		Overall:        types.GradeInsufficient,
		CanAnswer:      false,
		MissingSummary: "no evidence retrieved",
	}
	for _, e := range entities {
		res.Coverage = append(res.Coverage, types.CoverageAssessment{
			Entity:         e,
			MetricsMissing: metricsOrFallback(metrics),
			Confidence:     types.ConfidenceLow,
		}.Normalize())
	}
	return res
}

func splitBatches(chunks []types.EvidenceChunk, size int) [][]types.EvidenceChunk {
	var out [][]types.EvidenceChunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[start:end])
	}
	return out
}

func sortedCoverage(m map[string]types.CoverageAssessment) []types.CoverageAssessment {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.CoverageAssessment, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func normalizeEntities(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range in {
		n := types.NormalizeEntity(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func metricsOrFallback(metrics []string) []string {
	if len(metrics) == 0 {
		return []string{fallbackMetric}
	}
	return append([]string(nil), metrics...)
}

func appendUniqueString(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return types.ClipContent(s, n) + "..."
}
