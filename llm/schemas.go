package llm

// Task 标识一次模型调用的用途, 决定使用的输出契约.
type Task string

// Structured tasks (typed schema in/out).
const (
	TaskQueryPlan       Task = "query_plan"
	TaskGradeBatch      Task = "grade_batch"
	TaskGapPlan         Task = "gap_plan"
	TaskFinancialFields Task = "financial_fields"
	TaskGrounding       Task = "grounding"
	TaskRelevance       Task = "relevance"
)

// Free-text tasks.
const (
	TaskAnswer      Task = "answer"
	TaskReformulate Task = "reformulate"
	TaskClarify     Task = "clarify"
)

// MetadataTask is the ChatRequest metadata key carrying the task tag.
const MetadataTask = "task"

// Structured reports whether the task has a JSON output contract.
func (t Task) Structured() bool {
	_, ok := taskSchemas[t]
	return ok
}

const queryPlanSchema = `{
  "type": "object",
  "required": ["needs_decomposition", "query_type", "entities", "subqueries"],
  "properties": {
    "needs_decomposition": {"type": "boolean"},
    "query_type": {"enum": ["single_entity", "multi_entity", "calculation", "general", "temporal_comparison"]},
    "entities": {"type": "array", "items": {"type": "string"}},
    "subqueries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "entity": {"type": "string"},
          "concept": {"type": "string"}
        }
      }
    },
    "rationale": {"type": "string"}
  }
}`

const coverageSchema = `{
  "type": "object",
  "required": ["entity", "metrics_found", "metrics_missing"],
  "properties": {
    "entity": {"type": "string"},
    "metrics_found": {"type": "array", "items": {"type": "string"}},
    "metrics_missing": {"type": "array", "items": {"type": "string"}},
    "years_covered": {"type": "array", "items": {"type": "string"}},
    "confidence": {"enum": ["high", "medium", "low"]}
  }
}`

const gradeBatchSchema = `{
  "type": "object",
  "required": ["overall", "can_answer", "coverage"],
  "properties": {
    "overall": {"enum": ["sufficient", "partial", "insufficient"]},
    "can_answer": {"type": "boolean"},
    "coverage": {"type": "array", "items": ` + coverageSchema + `},
    "missing_summary": {"type": "string"}
  }
}`

const gapPlanSchema = `{
  "type": "object",
  "required": ["has_gaps", "gap_type", "missing_items"],
  "properties": {
    "has_gaps": {"type": "boolean"},
    "gap_type": {"enum": ["missing_entity", "missing_metric", "missing_year", "none"]},
    "missing_items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["entity", "metric"],
        "properties": {
          "entity": {"type": "string"},
          "metric": {"type": "string"},
          "source_hint": {"type": "string"}
        }
      }
    }
  }
}`

const nullableString = `{"type": ["string", "null"]}`

const financialFieldsSchema = `{
  "type": "object",
  "required": ["entity"],
  "properties": {
    "entity": {"type": "string"},
    "period": ` + nullableString + `,
    "revenue": ` + nullableString + `,
    "net_income": ` + nullableString + `,
    "operating_income": ` + nullableString + `,
    "eps": ` + nullableString + `,
    "total_assets": ` + nullableString + `,
    "total_debt": ` + nullableString + `,
    "cash": ` + nullableString + `,
    "rd_expense": ` + nullableString + `,
    "yoy_growth": ` + nullableString + `,
    "margins": ` + nullableString + `,
    "other_facts": {"type": "array", "items": {"type": "string"}}
  }
}`

const groundingSchema = `{
  "type": "object",
  "required": ["grounded"],
  "properties": {
    "grounded": {"type": "boolean"},
    "reason": {"type": "string"}
  }
}`

const relevanceSchema = `{
  "type": "object",
  "required": ["relevant"],
  "properties": {
    "relevant": {"type": "boolean"},
    "reason": {"type": "string"}
  }
}`

var taskSchemas = map[Task]string{
	TaskQueryPlan:       queryPlanSchema,
	TaskGradeBatch:      gradeBatchSchema,
	TaskGapPlan:         gapPlanSchema,
	TaskFinancialFields: financialFieldsSchema,
	TaskGrounding:       groundingSchema,
	TaskRelevance:       relevanceSchema,
}

// GroundingVerdict is the output of TaskGrounding.
type GroundingVerdict struct {
	Grounded bool   `json:"grounded"`
	Reason   string `json:"reason,omitempty"`
}

// RelevanceVerdict is the output of TaskRelevance.
type RelevanceVerdict struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason,omitempty"`
}

// FinancialFields is the output of TaskFinancialFields.
type FinancialFields struct {
	Entity          string   `json:"entity"`
	Period          *string  `json:"period"`
	Revenue         *string  `json:"revenue"`
	NetIncome       *string  `json:"net_income"`
	OperatingIncome *string  `json:"operating_income"`
	EPS             *string  `json:"eps"`
	TotalAssets     *string  `json:"total_assets"`
	TotalDebt       *string  `json:"total_debt"`
	Cash            *string  `json:"cash"`
	RDExpense       *string  `json:"rd_expense"`
	YoYGrowth       *string  `json:"yoy_growth"`
	Margins         *string  `json:"margins"`
	OtherFacts      []string `json:"other_facts"`
}

// GapItem is one element of the TaskGapPlan output.
type GapItem struct {
	Entity     string `json:"entity"`
	Metric     string `json:"metric"`
	SourceHint string `json:"source_hint,omitempty"`
}

// GapClassification is the output of TaskGapPlan.
type GapClassification struct {
	HasGaps      bool      `json:"has_gaps"`
	GapType      string    `json:"gap_type"`
	MissingItems []GapItem `json:"missing_items"`
}
