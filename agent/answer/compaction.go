package answer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
)

// CompactionConfig 证据压缩参数 (字符数)
type CompactionConfig struct {
	AnswerBudget       int `json:"answer_budget"`
	VerifyBudget       int `json:"verify_budget"`
	SmallItemChars     int `json:"small_item_chars"`
	OversizedItemChars int `json:"oversized_item_chars"`
	Concurrency        int `json:"concurrency"`
}

// CompactionConfigFrom maps pipeline settings.
func CompactionConfigFrom(p config.PipelineConfig) CompactionConfig {
	return CompactionConfig{
		AnswerBudget:       p.AnswerCharBudget,
		VerifyBudget:       p.VerifyCharBudget,
		SmallItemChars:     p.SmallItemChars,
		OversizedItemChars: p.OversizedItemChars,
		Concurrency:        p.Concurrency,
	}
}

// DefaultCompactionConfig 返回默认配置
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfigFrom(config.DefaultPipelineConfig())
}

// CompactionStats 记录一次渲染的压缩情况
type CompactionStats struct {
	Compacted  bool `json:"compacted"`
	Summarized int  `json:"summarized"`
	Truncated  int  `json:"truncated"`
	Chars      int  `json:"chars"`
}

// Compactor renders evidence into prompt text within a character budget.
type Compactor struct {
	model  llm.Model
	cfg    CompactionConfig
	logger *zap.Logger
}

// NewCompactor 创建压缩器
func NewCompactor(model llm.Model, cfg CompactionConfig, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultCompactionConfig()
	if cfg.AnswerBudget <= 0 {
		cfg.AnswerBudget = def.AnswerBudget
	}
	if cfg.VerifyBudget <= 0 {
		cfg.VerifyBudget = def.VerifyBudget
	}
	if cfg.SmallItemChars <= 0 {
		cfg.SmallItemChars = def.SmallItemChars
	}
	if cfg.OversizedItemChars <= 0 {
		cfg.OversizedItemChars = def.OversizedItemChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workflow.DefaultConcurrency
	}
	return &Compactor{model: model, cfg: cfg, logger: logger.With(zap.String("component", "compactor"))}
}

// Config returns the effective configuration.
func (c *Compactor) Config() CompactionConfig { return c.cfg }

// Render formats evidence for a prompt. Within budget every chunk is verbatim.
// Over budget, large web chunks are replaced by a model-extracted financial
// field summary; when extraction fails only the tail beyond OversizedItemChars
// is cut. Index chunks are always verbatim.
func (c *Compactor) Render(ctx context.Context, evidence types.EvidenceSet, budget int) (string, CompactionStats) {
	chunks := evidence.Chunks
	bodies := make([]string, len(chunks))
	total := 0
	for i, ch := range chunks {
		bodies[i] = ch.Content
		total += len(header(i, ch)) + len(ch.Content) + 2
	}

	var stats CompactionStats
	if total > budget {
		stats.Compacted = true

		var targets []int
		for i, ch := range chunks {
			if ch.Source == types.SourceWeb && len(ch.Content) > c.cfg.SmallItemChars {
				targets = append(targets, i)
			}
		}
		summaries, errs := workflow.FanOut(ctx, targets, c.cfg.Concurrency,
			func(ctx context.Context, _ int, idx int) (string, error) {
				return c.summarize(ctx, chunks[idx])
			})
		for j, idx := range targets {
			if errs[j] == nil && summaries[j] != "" {
				bodies[idx] = summaries[j]
				stats.Summarized++
				continue
			}
			if errs[j] != nil {
				c.logger.Debug("web evidence summarization failed, truncating",
					zap.String("url", chunks[idx].URL), zap.Error(errs[j]))
			}
			if len(bodies[idx]) > c.cfg.OversizedItemChars {
				bodies[idx] = types.ClipContent(bodies[idx], c.cfg.OversizedItemChars) + " [truncated]"
				stats.Truncated++
			}
		}
	}

	var b strings.Builder
	for i, ch := range chunks {
		b.WriteString(header(i, ch))
		b.WriteString(bodies[i])
		b.WriteString("\n\n")
	}
	out := strings.TrimSpace(b.String())
	stats.Chars = len(out)
	if stats.Compacted {
		c.logger.Info("evidence compacted",
			zap.Int("budget", budget),
			zap.Int("original_chars", total),
			zap.Int("chars", stats.Chars),
			zap.Int("summarized", stats.Summarized),
			zap.Int("truncated", stats.Truncated))
	}
	return out, stats
}

// RenderForAnswer uses the answer budget.
func (c *Compactor) RenderForAnswer(ctx context.Context, evidence types.EvidenceSet) (string, CompactionStats) {
	return c.Render(ctx, evidence, c.cfg.AnswerBudget)
}

// RenderForVerify uses the stricter verification budget.
func (c *Compactor) RenderForVerify(ctx context.Context, evidence types.EvidenceSet) (string, CompactionStats) {
	return c.Render(ctx, evidence, c.cfg.VerifyBudget)
}

func header(i int, ch types.EvidenceChunk) string {
	ref := ch.DocumentRef
	if ch.URL != "" {
		ref = ch.URL
	}
	entity := ch.Entity
	if entity == "" {
		entity = "-"
	}
	return fmt.Sprintf("[%d] source=%s entity=%s ref=%s\n", i+1, ch.Source, entity, ref)
}

const fieldsSystemPrompt = `Extract financial figures from the text into the given JSON fields.
Use null for anything not stated. Keep units and periods exactly as written.`

func (c *Compactor) summarize(ctx context.Context, ch types.EvidenceChunk) (string, error) {
	prompt := fmt.Sprintf("Entity: %s\nSource: %s\n\n%s", ch.Entity, ch.URL, ch.Content)
	var f llm.FinancialFields
	if err := c.model.Extract(ctx, llm.TaskFinancialFields, fieldsSystemPrompt, prompt, &f); err != nil {
		return "", err
	}
	if f.Entity == "" {
		f.Entity = ch.Entity
	}
	return RenderFinancialFields(f), nil
}

// RenderFinancialFields prints the non-null fields as "name: value" lines.
func RenderFinancialFields(f llm.FinancialFields) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Financial summary for %s", f.Entity)
	if f.Period != nil && *f.Period != "" {
		fmt.Fprintf(&buf, " (%s)", *f.Period)
	}
	buf.WriteString(":")
	fields := []struct {
		name string
		v    *string
	}{
		{"revenue", f.Revenue},
		{"net income", f.NetIncome},
		{"operating income", f.OperatingIncome},
		{"eps", f.EPS},
		{"total assets", f.TotalAssets},
		{"total debt", f.TotalDebt},
		{"cash", f.Cash},
		{"r&d expense", f.RDExpense},
		{"yoy growth", f.YoYGrowth},
		{"margins", f.Margins},
	}
	n := 0
	for _, fld := range fields {
		if fld.v == nil || strings.TrimSpace(*fld.v) == "" {
			continue
		}
		fmt.Fprintf(&buf, "\n- %s: %s", fld.name, strings.TrimSpace(*fld.v))
		n++
	}
	for _, fact := range f.OtherFacts {
		if fact = strings.TrimSpace(fact); fact != "" {
			fmt.Fprintf(&buf, "\n- %s", fact)
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return buf.String()
}
