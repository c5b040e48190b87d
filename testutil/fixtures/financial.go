// =============================================================================
// 📦 测试数据工厂 - 财务文档与证据
// =============================================================================
// 提供预定义的财报片段, 证据与评分结果, 用于测试
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/finrag/types"
)

// Document 一份样例财报文档
type Document struct {
	Entity      string
	DocumentRef string
	Title       string
	ContentType string
	Text        string
}

// =============================================================================
// 🎯 文档工厂
// =============================================================================

// AppleDocuments 返回 3 份互不重复的 AAPL 文档
func AppleDocuments() []Document {
	return []Document{
		{
			Entity: "AAPL", DocumentRef: "aapl-10k-2023", Title: "Apple 10-K 2023", ContentType: "10-K",
			Text: "Apple total net sales were $383.3 billion in fiscal 2023, a decrease of 3% year over year.",
		},
		{
			Entity: "AAPL", DocumentRef: "aapl-10k-2023-income", Title: "Apple 10-K 2023", ContentType: "10-K",
			Text: "Apple net income was $97.0 billion and operating income was $114.3 billion in fiscal 2023.",
		},
		{
			Entity: "AAPL", DocumentRef: "aapl-10q-q1-2024", Title: "Apple 10-Q Q1 2024", ContentType: "10-Q",
			Text: "Research and development expense was $7.7 billion for the first quarter of fiscal 2024.",
		},
	}
}

// MicrosoftDocuments 返回 MSFT 样例文档
func MicrosoftDocuments() []Document {
	return []Document{
		{
			Entity: "MSFT", DocumentRef: "msft-10k-2023", Title: "Microsoft 10-K 2023", ContentType: "10-K",
			Text: "Microsoft revenue was $211.9 billion and net income was $72.4 billion in fiscal 2023.",
		},
		{
			Entity: "MSFT", DocumentRef: "msft-10k-2023-rd", Title: "Microsoft 10-K 2023", ContentType: "10-K",
			Text: "Microsoft research and development expenses were $27.2 billion in fiscal 2023.",
		},
	}
}

// =============================================================================
// 🔍 证据工厂
// =============================================================================

// IndexChunk 构造一条内部索引证据
func IndexChunk(entity, docRef string, position int, content string) types.EvidenceChunk {
	return types.EvidenceChunk{
		Content:     content,
		Source:      types.SourceIndex,
		Entity:      entity,
		DocumentRef: docRef,
		Position:    position,
		ContentType: "10-K",
		Score:       1.0 / float64(position+1),
	}
}

// WebChunk 构造一条网络证据
func WebChunk(entity, url, content string) types.EvidenceChunk {
	return types.EvidenceChunk{
		Content:     content,
		Source:      types.SourceWeb,
		Entity:      entity,
		DocumentRef: url,
		URL:         url,
		Title:       "web result",
	}
}

// EvidenceSet 构造 n 条互不重复的实体证据
func EvidenceSet(entity string, n int) types.EvidenceSet {
	var s types.EvidenceSet
	for i := 0; i < n; i++ {
		s.Add(IndexChunk(entity, fmt.Sprintf("%s-doc-%d", entity, i), i,
			fmt.Sprintf("%s filing excerpt %d: revenue and net income figures.", entity, i)))
	}
	return s
}

// =============================================================================
// 📊 评分工厂
// =============================================================================

// SufficientGrade 返回覆盖完整的评分
func SufficientGrade(entities ...string) types.GradeResult {
	g := types.GradeResult{Overall: types.GradeSufficient, CanAnswer: true}
	for _, e := range entities {
		g.Coverage = append(g.Coverage, types.CoverageAssessment{
			Entity:       e,
			MetricsFound: []string{"revenue", "net income"},
			Confidence:   types.ConfidenceHigh,
		})
	}
	return g
}

// BatchGrade 是模型批量评分的原始输出形态
type BatchGrade struct {
	Overall        string                     `json:"overall"`
	CanAnswer      bool                       `json:"can_answer"`
	Coverage       []types.CoverageAssessment `json:"coverage"`
	MissingSummary string                     `json:"missing_summary,omitempty"`
}

// SufficientBatch 返回充分的批量评分输出
func SufficientBatch(entities ...string) BatchGrade {
	g := SufficientGrade(entities...)
	return BatchGrade{Overall: string(g.Overall), CanAnswer: true, Coverage: g.Coverage}
}
