package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// 计划来源
const (
	StrategyComparisonTemplate = "comparison_template"
	StrategySegmentTemplate    = "segment_template"
	StrategyModel              = "model"
	StrategyRules              = "rules"
)

// comparisonConcepts 对比模式下每个实体固定的 9 个检索维度.
var comparisonConcepts = []struct {
	Concept  string
	Template string
}{
	{"revenue", "%s total revenue net sales annual"},
	{"net_income", "%s net income net earnings profit"},
	{"operating_income", "%s operating income operating profit"},
	{"yoy_growth", "%s year over year revenue growth rate"},
	{"rd_expense", "%s research and development R&D expense"},
	{"total_assets", "%s total assets balance sheet"},
	{"total_debt", "%s total debt long-term borrowings"},
	{"business_drivers", "%s key business drivers growth strategy"},
	{"risk_factors", "%s risk factors principal risks"},
}

// segmentConcepts 分部/地区类问题每个实体的 6 个检索维度.
var segmentConcepts = []struct {
	Concept  string
	Template string
}{
	{"segment_revenue", "%s revenue by business segment"},
	{"geographic_revenue", "%s revenue by geographic region"},
	{"segment_operating_income", "%s segment operating income margin"},
	{"domestic_international", "%s domestic versus international sales"},
	{"product_lines", "%s revenue by product line category"},
	{"segment_trends", "%s segment growth trends outlook"},
}

var segmentKeywords = []string{
	"segment", "geograph", "region", "by country", "breakdown",
	"international", "domestic", "product line", "americas", "europe",
	"asia", "china", "emea", "apac",
}

// 规则意图检测
var intentPatterns = []struct {
	Type     types.QueryType
	Keywords []string
}{
	{types.QueryTypeTemporalComparison, []string{"over the last", "over the past", "year over year", "since 20", "trend", "from 20", "between 20"}},
	{types.QueryTypeCalculation, []string{"calculate", "ratio", "margin", "growth rate", "cagr", "percentage", "how much did", "compute"}},
	{types.QueryTypeMultiEntity, []string{"compare", " vs ", " vs. ", "versus", "difference between", "better than"}},
	{types.QueryTypeGeneral, []string{"what is a", "what are", "explain", "define", "market", "economy", "inflation", "interest rate", "fed "}},
}

// genericIntentTerms 无实体时仍可直接回答的泛化主题.
var genericIntentTerms = []string{
	"market", "economy", "inflation", "interest rate", "index fund", "etf",
	"what is a", "what are", "define", "explain", "how does", "recession", "s&p",
}

var referentialTerms = []string{
	"it", "its", "they", "their", "them", "this", "that", "those", "these",
	"the company", "the stock", "he", "she",
}

var tickerPattern = regexp.MustCompile(`\$?\b[A-Z][A-Z.]{0,5}\b`)

// tickerStopWords 常见全大写缩写, 不视为代码.
var tickerStopWords = map[string]bool{
	"I": true, "A": true, "Q1": true, "Q2": true, "Q3": true, "Q4": true,
	"YOY": true, "EPS": true, "CEO": true, "CFO": true, "USA": true, "US": true,
	"EU": true, "UK": true, "R": true, "D": true, "GDP": true, "ETF": true,
	"IPO": true, "SEC": true, "FY": true, "TTM": true, "EBIT": true, "EBITDA": true,
	"ROE": true, "ROA": true, "PE": true, "AI": true, "AND": true, "OR": true,
	"VS": true, "THE": true, "OF": true, "IN": true, "FED": true, "CAGR": true,
	"APAC": true, "EMEA": true, "U.S": true, "U.K": true,
}

const queryPlanSystem = `You plan retrieval for financial questions about public companies.
Classify the query, extract company tickers, decide whether it needs decomposition and
write focused sub-queries. For each concept include alternative terminology
(for example "revenue" / "net sales" / "total sales"). Respond with JSON only.`

// QueryAnalyzer 将问题转换为子查询计划.
type QueryAnalyzer struct {
	model  llm.Model
	logger *zap.Logger
}

// NewQueryAnalyzer creates an analyzer. model may be nil, in which case rules are used.
func NewQueryAnalyzer(model llm.Model, logger *zap.Logger) *QueryAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryAnalyzer{
		model:  model,
		logger: logger.With(zap.String("component", "query_analyzer")),
	}
}

// Analyze 按优先级生成计划: 对比模板, 分部模板, 模型规划, 规则兜底.
// 模型失败不会返回错误, 只有 ctx 取消时返回错误.
func (a *QueryAnalyzer) Analyze(ctx context.Context, q types.Query) (types.SubQueryPlan, error) {
	if err := ctx.Err(); err != nil {
		return types.SubQueryPlan{}, err
	}

	if q.ComparisonMode {
		entities := ResolveEntities(q, ExtractTickers(q.Text))
		if len(entities) > 0 {
			return ComparisonPlan(entities), nil
		}
	}

	if HasSegmentIntent(q.Text) {
		if entities := ResolveEntities(q, ExtractTickers(q.Text)); len(entities) > 0 {
			return SegmentPlan(entities), nil
		}
	}

	if a.model != nil {
		plan, err := a.modelPlan(ctx, q.Text)
		if err == nil {
			return plan, nil
		}
		if ctx.Err() != nil {
			return types.SubQueryPlan{}, ctx.Err()
		}
		a.logger.Warn("model query plan failed, using rule-based plan", zap.Error(err))
	}
	return RulePlan(q.Text), nil
}

func (a *QueryAnalyzer) modelPlan(ctx context.Context, text string) (types.SubQueryPlan, error) {
	var plan types.SubQueryPlan
	prompt := fmt.Sprintf("Query: %s", text)
	if err := a.model.Extract(ctx, llm.TaskQueryPlan, queryPlanSystem, prompt, &plan); err != nil {
		return types.SubQueryPlan{}, err
	}
	if !plan.QueryType.Valid() {
		plan.QueryType = types.QueryTypeGeneral
	}
	for i, e := range plan.Entities {
		plan.Entities[i] = types.NormalizeEntity(e)
	}
	plan.Strategy = StrategyModel

	if plan.NeedsDecomposition && len(nonEmptySubQueries(plan.SubQueries)) == 0 {
		rules := RulePlan(text)
		plan.SubQueries = rules.SubQueries
		if len(plan.SubQueries) == 0 {
			plan.SubQueries = []types.SubQuery{{Text: text}}
		}
	}
	plan.SubQueries = nonEmptySubQueries(plan.SubQueries)
	return plan, nil
}

// ComparisonPlan builds the fixed 9-concept plan for each entity.
func ComparisonPlan(entities []string) types.SubQueryPlan {
	qt := types.QueryTypeMultiEntity
	if len(entities) == 1 {
		qt = types.QueryTypeSingleEntity
	}
	plan := types.SubQueryPlan{
		NeedsDecomposition: true,
		QueryType:          qt,
		Entities:           entities,
		Strategy:           StrategyComparisonTemplate,
		Rationale:          "comparison mode",
	}
	for _, e := range entities {
		for _, c := range comparisonConcepts {
			plan.SubQueries = append(plan.SubQueries, types.SubQuery{
				Text: fmt.Sprintf(c.Template, e), Entity: e, Concept: c.Concept,
			})
		}
	}
	return plan
}

// SegmentPlan builds the fixed 6-concept segment/geography plan for each entity.
func SegmentPlan(entities []string) types.SubQueryPlan {
	qt := types.QueryTypeSingleEntity
	if len(entities) > 1 {
		qt = types.QueryTypeMultiEntity
	}
	plan := types.SubQueryPlan{
		NeedsDecomposition: true,
		QueryType:          qt,
		Entities:           entities,
		Strategy:           StrategySegmentTemplate,
		Rationale:          "segment or geography intent",
	}
	for _, e := range entities {
		for _, c := range segmentConcepts {
			plan.SubQueries = append(plan.SubQueries, types.SubQuery{
				Text: fmt.Sprintf(c.Template, e), Entity: e, Concept: c.Concept,
			})
		}
	}
	return plan
}

// RulePlan 规则兜底: 关键词意图 + 大写代码提取.
func RulePlan(text string) types.SubQueryPlan {
	entities := ExtractTickers(text)
	qt := DetectQueryType(text)
	switch {
	case qt == types.QueryTypeGeneral && len(entities) == 1:
		qt = types.QueryTypeSingleEntity
	case qt == types.QueryTypeGeneral && len(entities) > 1:
		qt = types.QueryTypeMultiEntity
	}

	plan := types.SubQueryPlan{
		QueryType: qt,
		Entities:  entities,
		Strategy:  StrategyRules,
	}

	if len(entities) > 1 {
		topic := stripEntities(text, entities)
		plan.NeedsDecomposition = true
		for _, e := range entities {
			plan.SubQueries = append(plan.SubQueries, types.SubQuery{
				Text: strings.TrimSpace(e + " " + topic), Entity: e,
			})
		}
		return plan
	}

	parts := splitConjunctions(text)
	if len(parts) > 1 {
		plan.NeedsDecomposition = true
		var entity string
		if len(entities) == 1 {
			entity = entities[0]
		}
		for _, p := range parts {
			if entity != "" && !strings.Contains(strings.ToUpper(p), entity) {
				p = entity + " " + p
			}
			plan.SubQueries = append(plan.SubQueries, types.SubQuery{Text: p, Entity: entity})
		}
	}
	return plan
}

// DetectQueryType classifies text by keyword patterns. Unknown ⇒ general.
func DetectQueryType(text string) types.QueryType {
	lower := " " + strings.ToLower(text) + " "
	for _, p := range intentPatterns {
		for _, kw := range p.Keywords {
			if strings.Contains(lower, kw) {
				return p.Type
			}
		}
	}
	return types.QueryTypeGeneral
}

// HasSegmentIntent reports whether the question asks for segment or geographic data.
func HasSegmentIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range segmentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractTickers returns upper-case ticker-like tokens in order of appearance.
func ExtractTickers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range tickerPattern.FindAllString(text, -1) {
		t := strings.TrimSuffix(strings.TrimPrefix(m, "$"), ".")
		if len(t) < 2 && !strings.HasPrefix(m, "$") {
			continue
		}
		if tickerStopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// IsAmbiguous 判断是否需要向用户澄清: 无可解析实体, 无泛化意图, 且问题简短并带指代.
func IsAmbiguous(text string, entities []string) bool {
	if len(entities) > 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, t := range genericIntentTerms {
		if strings.Contains(lower, t) {
			return false
		}
	}
	words := embedding.Tokenize(lower)
	if len(words) > 8 {
		return false
	}
	for _, w := range words {
		for _, r := range referentialTerms {
			if w == r {
				return true
			}
		}
	}
	return strings.Contains(lower, "the company") || strings.Contains(lower, "the stock")
}

// IsFollowUp reports whether text is a pure follow-up instruction such as "summarize".
func IsFollowUp(text string, terms []string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func splitConjunctions(text string) []string {
	parts := []string{strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "?"))}
	for _, sep := range []string{" and also ", " as well as ", "; ", " and "} {
		var next []string
		for _, p := range parts {
			for _, s := range strings.Split(p, sep) {
				if s = strings.TrimSpace(s); s != "" {
					next = append(next, s)
				}
			}
		}
		parts = next
	}
	var out []string
	for _, p := range parts {
		if len(strings.Fields(p)) >= 2 {
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

func stripEntities(text string, entities []string) string {
	out := text
	for _, e := range entities {
		out = strings.ReplaceAll(out, "$"+e, "")
		out = regexp.MustCompile(`\b`+regexp.QuoteMeta(e)+`\b`).ReplaceAllString(out, "")
	}
	out = strings.NewReplacer(" vs. ", " ", " vs ", " ", " and ", " ", ",", " ", "?", "").Replace(out)
	return strings.Join(strings.Fields(out), " ")
}

func nonEmptySubQueries(in []types.SubQuery) []types.SubQuery {
	var out []types.SubQuery
	for _, sq := range in {
		if strings.TrimSpace(sq.Text) != "" {
			sq.Text = strings.TrimSpace(sq.Text)
			if sq.Entity != "" {
				sq.Entity = types.NormalizeEntity(sq.Entity)
			}
			out = append(out, sq)
		}
	}
	return out
}
