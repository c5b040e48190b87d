package answer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// GenerateRequest 生成回答的输入
type GenerateRequest struct {
	Query          string
	QueryType      types.QueryType
	Entities       []string
	Metrics        []string // expected table rows in comparison mode
	ComparisonMode bool
	Evidence       types.EvidenceSet
	Grade          *types.GradeResult
	PriorAnswer    string // follow-ups answered from the previous turn
	Feedback       string // verifier reason on retry
}

// Draft 生成结果
type Draft struct {
	Text         string           `json:"text"`
	Table        *ComparisonTable `json:"table,omitempty"`
	Insufficient bool             `json:"insufficient,omitempty"`
	Compaction   CompactionStats  `json:"compaction"`
}

// Generator 回答生成器
type Generator struct {
	model     llm.Model
	compactor *Compactor
	logger    *zap.Logger
}

// NewGenerator 创建生成器
func NewGenerator(model llm.Model, compactor *Compactor, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compactor == nil {
		compactor = NewCompactor(model, DefaultCompactionConfig(), logger)
	}
	return &Generator{model: model, compactor: compactor, logger: logger.With(zap.String("component", "generator"))}
}

const answerSystemPrompt = `You are a financial analyst answering questions about public companies.
Answer only from the evidence provided. Cite figures with their period and units.
If the evidence does not contain something, say it is not specified rather than guessing.`

var answerPromptTemplate = template.Must(template.New("answer").Parse(`## Question
{{.Query}}
{{if .Prior}}
## Previous answer in this conversation
{{.Prior}}
{{end}}{{if .Formulas}}
## Formulas
{{.Formulas}}
{{end}}{{if .Coverage}}
## Known gaps
{{.Coverage}}
{{end}}
## Evidence
{{if .Evidence}}{{.Evidence}}{{else}}(no evidence retrieved){{end}}
{{if .Comparison}}
## Output format
Respond with a markdown table only, then at most three sentences of commentary.
The header row must be exactly: | Metric |{{range .Entities}} {{.}} |{{end}}
One row per metric{{if .Metrics}} ({{.Metrics}}){{end}}. Put the figure with units in each cell, or "not specified".
{{end}}{{if .Feedback}}
## Reviewer feedback on your previous draft
{{.Feedback}}
Only state what the evidence supports.
{{end}}`))

// Generate drafts an answer. With no evidence and no prior answer it returns
// an insufficient-data answer without calling the model. A model failure is
// fatal and surfaces as SERVICE_UNAVAILABLE.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (Draft, error) {
	if req.Evidence.IsEmpty() && strings.TrimSpace(req.PriorAnswer) == "" {
		return Draft{Text: InsufficientAnswer(req.Query, req.Entities), Insufficient: true}, nil
	}

	evidence, stats := g.compactor.RenderForAnswer(ctx, req.Evidence.Sorted())

	entities := make([]string, 0, len(req.Entities))
	for _, e := range req.Entities {
		entities = append(entities, types.NormalizeEntity(e))
	}
	var coverage string
	if req.Grade != nil && req.Grade.Overall != types.GradeSufficient {
		coverage = req.Grade.MissingSummary
	}

	var buf bytes.Buffer
	if err := answerPromptTemplate.Execute(&buf, map[string]any{
		"Query":      req.Query,
		"Prior":      req.PriorAnswer,
		"Formulas":   FormulaContext(req.Query, req.QueryType),
		"Coverage":   coverage,
		"Evidence":   evidence,
		"Comparison": req.ComparisonMode,
		"Entities":   entities,
		"Metrics":    strings.Join(req.Metrics, ", "),
		"Feedback":   req.Feedback,
	}); err != nil {
		return Draft{}, fmt.Errorf("render answer prompt: %w", err)
	}

	text, err := g.model.Generate(ctx, llm.TaskAnswer, answerSystemPrompt, buf.String())
	if err != nil {
		if ctx.Err() != nil {
			return Draft{}, ctx.Err()
		}
		return Draft{}, types.NewServiceUnavailableError("answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Draft{}, types.NewError(types.ErrServiceUnavailable, "model returned an empty answer").WithComponent("answer")
	}

	draft := Draft{Text: text, Compaction: stats}
	if req.ComparisonMode {
		draft = normalizeComparison(draft, entities)
		if draft.Table == nil {
			g.logger.Warn("comparison answer has no parseable table")
		}
	}

	g.logger.Info("answer generated",
		zap.Int("evidence", req.Evidence.Len()),
		zap.Bool("compacted", stats.Compacted),
		zap.Bool("table", draft.Table != nil),
		zap.Bool("retry", req.Feedback != ""))
	return draft, nil
}

// normalizeComparison rewrites the first table in canonical column order and
// keeps any commentary that followed it.
func normalizeComparison(d Draft, entities []string) Draft {
	t, ok := ParseTable(d.Text)
	if !ok {
		return d
	}
	if len(entities) > 0 {
		t = t.Canonicalize(entities)
	}
	commentary := strings.TrimSpace(textAfterTable(d.Text))
	d.Table = &t
	d.Text = t.Render()
	if commentary != "" {
		d.Text += "\n\n" + commentary
	}
	return d
}

func textAfterTable(text string) string {
	lines := strings.Split(text, "\n")
	inTable := false
	for i, l := range lines {
		if isRow(l) {
			inTable = true
			continue
		}
		if inTable {
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

// InsufficientAnswer is the graceful reply when nothing relevant was found.
func InsufficientAnswer(query string, entities []string) string {
	scope := ""
	if len(entities) > 0 {
		scope = " for " + strings.Join(entities, ", ")
	}
	return fmt.Sprintf("I could not find sufficient data%s to answer: %q. "+
		"The indexed filings and trusted sources searched did not contain the requested figures.", scope, strings.TrimSpace(query))
}
