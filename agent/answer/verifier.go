package answer

import (
	"bytes"
	"context"
	"text/template"

	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// Verification 校验结果
type Verification struct {
	Grounded bool   `json:"grounded"`
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason,omitempty"`
	// Skipped is set when a verdict could not be obtained and the draft was
	// accepted leniently.
	Skipped bool `json:"skipped,omitempty"`
}

// Accepted reports whether the draft passes both checks.
func (v Verification) Accepted() bool { return v.Grounded && v.Relevant }

// Verifier checks a draft for grounding in the evidence, then for relevance
// to the question.
type Verifier struct {
	model     llm.Model
	compactor *Compactor
	logger    *zap.Logger
}

// NewVerifier 创建校验器
func NewVerifier(model llm.Model, compactor *Compactor, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compactor == nil {
		compactor = NewCompactor(model, DefaultCompactionConfig(), logger)
	}
	return &Verifier{model: model, compactor: compactor, logger: logger.With(zap.String("component", "verifier"))}
}

const groundingSystemPrompt = `You check financial answers against source evidence.
An answer is grounded when every figure and factual claim in it appears in, or is directly
computed from, the evidence. Statements that data is not specified are grounded.`

const relevanceSystemPrompt = `You check whether an answer addresses the question that was asked.
Be lenient: partial answers and answers that explain missing data are relevant.`

var groundingTemplate = template.Must(template.New("grounding").Parse(`## Evidence
{{.Evidence}}

## Answer
{{.Answer}}

Return {"grounded": bool, "reason": string}.`))

var relevanceTemplate = template.Must(template.New("relevance").Parse(`## Question
{{.Query}}

## Answer
{{.Answer}}

Return {"relevant": bool, "reason": string}.`))

// Verify runs the grounding check and, if grounded, the relevance check.
// Drafts with no evidence behind them (insufficient-data replies and
// follow-ups answered from the prior turn) skip grounding.
func (v *Verifier) Verify(ctx context.Context, query string, draft Draft, evidence types.EvidenceSet) (Verification, error) {
	out := Verification{Grounded: true, Relevant: true}

	if !draft.Insufficient && !evidence.IsEmpty() {
		rendered, _ := v.compactor.RenderForVerify(ctx, evidence.Sorted())
		var buf bytes.Buffer
		if err := groundingTemplate.Execute(&buf, map[string]string{"Evidence": rendered, "Answer": draft.Text}); err != nil {
			return out, err
		}
		var gv llm.GroundingVerdict
		if err := v.model.Extract(ctx, llm.TaskGrounding, groundingSystemPrompt, buf.String(), &gv); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			v.logger.Warn("grounding check failed, accepting draft", zap.Error(err))
			out.Skipped = true
			return out, nil
		}
		if !gv.Grounded {
			out.Grounded = false
			out.Relevant = false
			out.Reason = gv.Reason
			v.logger.Info("draft not grounded", zap.String("reason", gv.Reason))
			return out, nil
		}
	}

	var buf bytes.Buffer
	if err := relevanceTemplate.Execute(&buf, map[string]string{"Query": query, "Answer": draft.Text}); err != nil {
		return out, err
	}
	var rv llm.RelevanceVerdict
	if err := v.model.Extract(ctx, llm.TaskRelevance, relevanceSystemPrompt, buf.String(), &rv); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		v.logger.Warn("relevance check failed, accepting draft", zap.Error(err))
		out.Skipped = true
		return out, nil
	}
	out.Relevant = rv.Relevant
	out.Reason = rv.Reason
	if !rv.Relevant {
		v.logger.Info("draft not relevant", zap.String("reason", rv.Reason))
	}
	return out, nil
}
