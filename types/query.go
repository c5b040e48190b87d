package types

import (
	"sort"
	"strings"
)

// Query 是调用方提交的一次提问.
type Query struct {
	Text               string   `json:"text"`
	ConversationID     string   `json:"conversation_id"`
	EntityFilter       []string `json:"entity_filter,omitempty"`       // caller scope, always honored
	ComparisonMode     bool     `json:"comparison_mode"`
	ComparisonEntities []string `json:"comparison_entities,omitempty"`
	OverrideEntity     string   `json:"override_entity,omitempty"`
	PriorAnswer        string   `json:"prior_answer,omitempty"` // previous turn, used by follow-ups
}

// Validate 检查查询是否可执行.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return NewError(ErrInvalidRequest, "query text is empty")
	}
	if q.ComparisonMode && len(q.ComparisonEntities) == 1 && len(q.EntityFilter) == 0 {
		return NewError(ErrInvalidRequest, "comparison mode needs at least two entities")
	}
	return nil
}

// ScopeKey 返回调用方检索范围的指纹: 实体过滤、覆盖实体、对比模式与对比实体.
// 实体顺序与大小写不影响结果. 无任何范围约束时为 "".
func (q Query) ScopeKey() string {
	filter := sortedEntities(q.EntityFilter)
	override := NormalizeEntity(q.OverrideEntity)
	compare := sortedEntities(q.ComparisonEntities)
	if len(filter) == 0 && override == "" && !q.ComparisonMode && len(compare) == 0 {
		return ""
	}
	mode := "single"
	if q.ComparisonMode {
		mode = "compare"
	}
	return "filter=" + strings.Join(filter, ",") +
		"|override=" + override +
		"|mode=" + mode +
		"|compare=" + strings.Join(compare, ",")
}

func sortedEntities(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		n := NormalizeEntity(e)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// QueryType 查询分类.
type QueryType string

const (
	QueryTypeSingleEntity       QueryType = "single_entity"
	QueryTypeMultiEntity        QueryType = "multi_entity"
	QueryTypeCalculation        QueryType = "calculation"
	QueryTypeGeneral            QueryType = "general"
	QueryTypeTemporalComparison QueryType = "temporal_comparison"
)

// Valid reports whether t is one of the known query types.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeSingleEntity, QueryTypeMultiEntity, QueryTypeCalculation,
		QueryTypeGeneral, QueryTypeTemporalComparison:
		return true
	}
	return false
}

// SubQuery 分解后的单个子查询.
type SubQuery struct {
	Text    string `json:"text"`
	Entity  string `json:"entity,omitempty"`
	Concept string `json:"concept,omitempty"`
}

// SubQueryPlan 查询分解计划.
type SubQueryPlan struct {
	NeedsDecomposition bool       `json:"needs_decomposition"`
	QueryType          QueryType  `json:"query_type"`
	Entities           []string   `json:"entities"`
	SubQueries         []SubQuery `json:"subqueries"`
	Rationale          string     `json:"rationale,omitempty"`
	Strategy           string     `json:"strategy,omitempty"`
}

// QueryTexts returns the sub-query texts, or the fallback text when the plan is undecomposed.
func (p SubQueryPlan) QueryTexts(fallback string) []string {
	if !p.NeedsDecomposition || len(p.SubQueries) == 0 {
		return []string{fallback}
	}
	out := make([]string, 0, len(p.SubQueries))
	for _, sq := range p.SubQueries {
		if t := strings.TrimSpace(sq.Text); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

// SubQueriesFor returns the sub-queries that target entity, plus the entity-agnostic ones.
func (p SubQueryPlan) SubQueriesFor(entity string) []SubQuery {
	var out []SubQuery
	for _, sq := range p.SubQueries {
		if sq.Entity == "" || NormalizeEntity(sq.Entity) == NormalizeEntity(entity) {
			out = append(out, sq)
		}
	}
	return out
}

// NormalizeEntity canonicalizes an entity id (ticker or company name).
func NormalizeEntity(entity string) string {
	e := strings.ToUpper(strings.TrimSpace(entity))
	e = strings.TrimPrefix(e, "$")
	return strings.Join(strings.Fields(e), "_")
}
