package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/finrag/llm"
	"go.uber.org/zap"
)

// Reformulator rewrites a question after a draft was judged off-topic.
type Reformulator struct {
	model  llm.Model
	logger *zap.Logger
}

// NewReformulator 创建查询改写器
func NewReformulator(model llm.Model, logger *zap.Logger) *Reformulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reformulator{model: model, logger: logger.With(zap.String("component", "reformulator"))}
}

const reformulateSystemPrompt = `Rewrite the user's financial question so a document search finds the figures it needs.
Keep every company, metric and period. Reply with the rewritten question only.`

// Reformulate returns the rewritten question. An error or an unchanged
// rewrite is reported so the caller can accept the draft instead.
func (r *Reformulator) Reformulate(ctx context.Context, query, reason string) (string, error) {
	prompt := fmt.Sprintf("Question: %s\nWhy the last answer missed: %s", query, strings.TrimSpace(reason))
	out, err := r.model.Generate(ctx, llm.TaskReformulate, reformulateSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" || strings.EqualFold(out, strings.TrimSpace(query)) {
		return "", fmt.Errorf("reformulation produced no new query")
	}
	r.logger.Info("query reformulated", zap.String("from", query), zap.String("to", out))
	return out, nil
}
