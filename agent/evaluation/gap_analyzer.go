package evaluation

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// GapRequest 缺口分析输入.
type GapRequest struct {
	Query    string
	Entities []string
	Grade    types.GradeResult
	Evidence types.EvidenceSet
}

// GapAnalyzer 把评分中的缺失项转成定向补充查询.
type GapAnalyzer struct {
	model  llm.Model
	logger *zap.Logger
}

// NewGapAnalyzer 创建缺口分析器
func NewGapAnalyzer(model llm.Model, logger *zap.Logger) *GapAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GapAnalyzer{model: model, logger: logger.With(zap.String("component", "gap_analyzer"))}
}

type gapItem struct {
	entity string
	metric string
	hint   string
}

// Analyze builds a GapPlan. Coverage from the grade is authoritative for what is
// missing: every missing item comes from the metrics_missing of an entity in
// question. The model only classifies, orders and adds source hints.
func (a *GapAnalyzer) Analyze(ctx context.Context, req GapRequest) (types.GapPlan, error) {
	if req.Grade.Overall == types.GradeSufficient {
		return types.GapPlan{GapType: types.GapNone}, nil
	}

	entities := normalizeEntities(req.Entities)
	if len(entities) == 0 {
		for _, c := range req.Grade.Coverage {
			entities = append(entities, types.NormalizeEntity(c.Entity))
		}
		entities = normalizeEntities(entities)
	}

	// entity -> normalized metric -> metric as reported
	missing := make(map[string]map[string]string, len(entities))
	var ordered []gapItem
	for _, e := range entities {
		cov, ok := req.Grade.CoverageFor(e)
		if !ok {
			continue
		}
		for _, m := range cov.MetricsMissing {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if missing[e] == nil {
				missing[e] = make(map[string]string)
			}
			if _, dup := missing[e][normalizeMetric(m)]; dup {
				continue
			}
			missing[e][normalizeMetric(m)] = m
			ordered = append(ordered, gapItem{entity: e, metric: m})
		}
	}

	if len(ordered) == 0 {
		if strings.TrimSpace(req.Grade.MissingSummary) == "" {
			return types.GapPlan{GapType: types.GapNone}, nil
		}
		return a.coarsePlan(req, entities), nil
	}

	cls, err := a.classify(ctx, req, entities, ordered)
	if err != nil {
		if ctx.Err() != nil {
			return types.GapPlan{}, ctx.Err()
		}
		a.logger.Warn("gap classification failed, using coarse query",
			zap.String("code", string(types.ErrGapAnalysisFailure)),
			zap.Error(err))
		return a.coarsePlan(req, entities), nil
	}

	// 模型给出的顺序优先, 只接受 coverage 中确实缺失的项
	var items []gapItem
	used := make(map[string]bool)
	take := func(e, metric, hint string) {
		k := e + "|" + normalizeMetric(metric)
		if used[k] {
			return
		}
		reported, ok := missing[e][normalizeMetric(metric)]
		if !ok {
			return
		}
		used[k] = true
		items = append(items, gapItem{entity: e, metric: reported, hint: hint})
	}
	for _, mi := range cls.MissingItems {
		e := types.NormalizeEntity(mi.Entity)
		if e != "" {
			take(e, mi.Metric, mi.SourceHint)
			continue
		}
		for _, ent := range entities {
			take(ent, mi.Metric, mi.SourceHint)
		}
	}
	for _, it := range ordered {
		take(it.entity, it.metric, "")
	}

	plan := types.GapPlan{
		HasGaps: true,
		GapType: a.gapType(req, entities, items, types.GapType(cls.GapType)),
	}
	seenItem := make(map[string]bool)
	for _, it := range items {
		if k := normalizeMetric(it.metric); !seenItem[k] {
			seenItem[k] = true
			plan.MissingItems = append(plan.MissingItems, it.metric)
		}
	}
	plan.TargetedQueries = buildQueries(items, YearsInText(req.Query))

	a.logger.Info("gap plan built",
		zap.String("gap_type", string(plan.GapType)),
		zap.Int("missing_items", len(plan.MissingItems)),
		zap.Int("queries", len(plan.TargetedQueries)))
	return plan, nil
}

const gapSystemPrompt = `You classify what financial data is missing to answer a question and suggest where to find it.
Only list items that appear in the missing metrics below. Respond with a single JSON object.`

var gapPromptTemplate = template.Must(template.New("gap").Parse(`## Question
{{.Query}}

## Grader summary
{{.Summary}}

## Missing metrics by entity
{{range .Items}}- {{.Entity}}: {{.Metric}}
{{end}}
## Output
{"has_gaps": bool, "gap_type": "missing_entity|missing_metric|missing_year|none",
 "missing_items": [{"entity": "...", "metric": "...", "source_hint": "10-K|10-Q|earnings release|..."}]}
List the most important items first.`))

func (a *GapAnalyzer) classify(ctx context.Context, req GapRequest, entities []string, items []gapItem) (llm.GapClassification, error) {
	type row struct{ Entity, Metric string }
	rows := make([]row, len(items))
	for i, it := range items {
		rows[i] = row{Entity: it.entity, Metric: it.metric}
	}
	var buf bytes.Buffer
	if err := gapPromptTemplate.Execute(&buf, map[string]any{
		"Query":   req.Query,
		"Summary": req.Grade.MissingSummary,
		"Items":   rows,
	}); err != nil {
		return llm.GapClassification{}, err
	}

	var out llm.GapClassification
	if err := a.model.Extract(ctx, llm.TaskGapPlan, gapSystemPrompt, buf.String(), &out); err != nil {
		return llm.GapClassification{}, err
	}
	return out, nil
}

// gapType: an entity with no evidence at all is always missing_entity; otherwise
// the model's classification is used when valid, else a rule-based one.
func (a *GapAnalyzer) gapType(req GapRequest, entities []string, items []gapItem, modelType types.GapType) types.GapType {
	counts := req.Evidence.CountByEntity()
	for _, e := range entities {
		if counts[e] == 0 {
			return types.GapMissingEntity
		}
	}
	switch modelType {
	case types.GapMissingMetric, types.GapMissingYear:
		return modelType
	}
	for _, it := range items {
		if isYearItem(it.metric) {
			return types.GapMissingYear
		}
	}
	return types.GapMissingMetric
}

// coarsePlan is the single broad query built from the grader's free-text summary.
func (a *GapAnalyzer) coarsePlan(req GapRequest, entities []string) types.GapPlan {
	summary := strings.TrimSpace(req.Grade.MissingSummary)
	text := strings.TrimSpace(req.Query)
	if summary != "" {
		text = strings.TrimSpace(text + " " + summary)
	}
	q := types.TargetedQuery{Text: text, SourceHint: defaultSourceHint}
	if len(entities) == 1 {
		q.Entity = entities[0]
	}
	return types.GapPlan{
		HasGaps:         text != "",
		GapType:         a.gapType(req, entities, nil, ""),
		TargetedQueries: []types.TargetedQuery{q},
		Fallback:        true,
	}
}

func buildQueries(items []gapItem, years []string) []types.TargetedQuery {
	var out []types.TargetedQuery
	seen := make(map[string]bool)
	yearPart := strings.Join(years, " ")
	for _, it := range items {
		hint := it.hint
		if hint == "" {
			hint = SourceHint(it.metric)
		}
		for _, v := range Variants(it.metric) {
			text := strings.Join(strings.Fields(strings.Join([]string{it.entity, v, yearPart, hint}, " ")), " ")
			k := strings.ToLower(text)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, types.TargetedQuery{
				Text:       text,
				Entity:     it.entity,
				Item:       it.metric,
				SourceHint: hint,
			})
		}
	}
	return out
}
