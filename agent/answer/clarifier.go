package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/finrag/llm"
	"go.uber.org/zap"
)

// Clarifier 为范围不明确的问题生成澄清问题
type Clarifier struct {
	model  llm.Model
	logger *zap.Logger
}

// NewClarifier 创建澄清器
func NewClarifier(model llm.Model, logger *zap.Logger) *Clarifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clarifier{model: model, logger: logger.With(zap.String("component", "clarifier"))}
}

const clarifySystemPrompt = `The user's financial question does not say which company it is about.
Ask one short question that lets them name the company or companies. Reply with the question only.`

// DefaultClarification is used when the model cannot produce a question.
const DefaultClarification = "Which company or ticker should I look at for this question?"

// Question never fails; model errors fall back to DefaultClarification.
func (c *Clarifier) Question(ctx context.Context, query string, known []string) string {
	prompt := "Question: " + query
	if len(known) > 0 {
		prompt += fmt.Sprintf("\nCompanies available: %s", strings.Join(known, ", "))
	}
	out, err := c.model.Generate(ctx, llm.TaskClarify, clarifySystemPrompt, prompt)
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		if err != nil {
			c.logger.Warn("clarification question failed", zap.Error(err))
		}
		return DefaultClarification
	}
	return out
}
