package types

import (
	"sort"
	"strings"
)

// GradeLevel 证据充分性等级.
type GradeLevel string

const (
	GradeSufficient   GradeLevel = "sufficient"
	GradePartial      GradeLevel = "partial"
	GradeInsufficient GradeLevel = "insufficient"
)

func (g GradeLevel) rank() int {
	switch g {
	case GradeSufficient:
		return 2
	case GradePartial:
		return 1
	default:
		return 0
	}
}

// MostConservative returns the weakest of the given grades.
// An empty list yields insufficient.
func MostConservative(grades ...GradeLevel) GradeLevel {
	if len(grades) == 0 {
		return GradeInsufficient
	}
	out := GradeSufficient
	for _, g := range grades {
		if g.rank() < out.rank() {
			out = g
		}
	}
	if out.rank() == 0 {
		return GradeInsufficient
	}
	return out
}

// Confidence 覆盖度置信度.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// LowerConfidence returns the lower of two confidences.
func LowerConfidence(a, b Confidence) Confidence {
	if a == "" {
		return b
	}
	if b == "" || a.rank() <= b.rank() {
		return a
	}
	return b
}

// CoverageAssessment 单个实体的指标覆盖情况.
type CoverageAssessment struct {
	Entity         string     `json:"entity"`
	MetricsFound   []string   `json:"metrics_found"`
	MetricsMissing []string   `json:"metrics_missing"`
	YearsCovered   []string   `json:"years_covered"`
	Confidence     Confidence `json:"confidence"`
}

// Normalize dedups and sorts each list and removes from MetricsMissing anything also found.
func (c CoverageAssessment) Normalize() CoverageAssessment {
	found := uniqueSorted(c.MetricsFound)
	foundSet := make(map[string]struct{}, len(found))
	for _, m := range found {
		foundSet[normalizeMetric(m)] = struct{}{}
	}
	var missing []string
	for _, m := range uniqueSorted(c.MetricsMissing) {
		if _, ok := foundSet[normalizeMetric(m)]; !ok {
			missing = append(missing, m)
		}
	}
	c.MetricsFound = found
	c.MetricsMissing = missing
	c.YearsCovered = uniqueSorted(c.YearsCovered)
	if c.Confidence == "" {
		c.Confidence = ConfidenceLow
	}
	return c
}

// MergeCoverage unions two assessments of the same entity. Found wins over missing.
func MergeCoverage(a, b CoverageAssessment) CoverageAssessment {
	out := CoverageAssessment{
		Entity:         a.Entity,
		MetricsFound:   append(append([]string{}, a.MetricsFound...), b.MetricsFound...),
		MetricsMissing: append(append([]string{}, a.MetricsMissing...), b.MetricsMissing...),
		YearsCovered:   append(append([]string{}, a.YearsCovered...), b.YearsCovered...),
		Confidence:     LowerConfidence(a.Confidence, b.Confidence),
	}
	if out.Entity == "" {
		out.Entity = b.Entity
	}
	return out.Normalize()
}

// GradeResult 证据评分结果.
type GradeResult struct {
	Overall                GradeLevel           `json:"overall"`
	CanAnswer              bool                 `json:"can_answer"`
	Coverage               []CoverageAssessment `json:"coverage"`
	MissingSummary         string               `json:"missing_summary"`
	EvidenceCountAtGrading int                  `json:"evidence_count_at_grading"`
	Heuristic              bool                 `json:"heuristic,omitempty"`
}

// CoverageFor returns the assessment for entity.
func (g GradeResult) CoverageFor(entity string) (CoverageAssessment, bool) {
	want := NormalizeEntity(entity)
	for _, c := range g.Coverage {
		if NormalizeEntity(c.Entity) == want {
			return c, true
		}
	}
	return CoverageAssessment{}, false
}

// MissingMetrics returns the union of metrics_missing for the given entities,
// or for all entities when none are given.
func (g GradeResult) MissingMetrics(entities ...string) []string {
	want := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		want[NormalizeEntity(e)] = struct{}{}
	}
	var out []string
	for _, c := range g.Coverage {
		if len(want) > 0 {
			if _, ok := want[NormalizeEntity(c.Entity)]; !ok {
				continue
			}
		}
		out = append(out, c.MetricsMissing...)
	}
	return uniqueSorted(out)
}

// GapType 缺口类型.
type GapType string

const (
	GapMissingEntity GapType = "missing_entity"
	GapMissingMetric GapType = "missing_metric"
	GapMissingYear   GapType = "missing_year"
	GapNone          GapType = "none"
)

// TargetedQuery 针对某个缺失项的补充检索查询.
type TargetedQuery struct {
	Text       string `json:"text"`
	Entity     string `json:"entity,omitempty"`
	Item       string `json:"item,omitempty"`
	SourceHint string `json:"source_hint,omitempty"`
}

// GapPlan 缺口分析结果.
type GapPlan struct {
	HasGaps         bool            `json:"has_gaps"`
	GapType         GapType         `json:"gap_type"`
	MissingItems    []string        `json:"missing_items"`
	TargetedQueries []TargetedQuery `json:"targeted_queries"`
	Fallback        bool            `json:"fallback,omitempty"`
}

// QueryTexts returns the targeted query texts in order.
func (p GapPlan) QueryTexts() []string {
	out := make([]string, 0, len(p.TargetedQueries))
	for _, q := range p.TargetedQueries {
		out = append(out, q.Text)
	}
	return out
}

func normalizeMetric(m string) string {
	return strings.ToLower(strings.Join(strings.Fields(m), " "))
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := normalizeMetric(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
