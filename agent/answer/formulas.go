package answer

import (
	"strings"

	"github.com/BaSui01/finrag/types"
)

// Formula 派生指标的计算方式
type Formula struct {
	Name       string
	Expression string
	Keywords   []string
}

var formulas = []Formula{
	{"Gross margin", "gross margin (%) = (revenue - cost of revenue) / revenue x 100", []string{"gross margin", "gross profit margin"}},
	{"Operating margin", "operating margin (%) = operating income / revenue x 100", []string{"operating margin", "ebit margin"}},
	{"Net margin", "net margin (%) = net income / revenue x 100", []string{"net margin", "profit margin", "net profit margin"}},
	{"Year-over-year growth", "growth (%) = (current period - prior period) / prior period x 100", []string{"growth", "yoy", "year-over-year", "increase", "decrease", "change"}},
	{"CAGR", "CAGR (%) = ((ending value / beginning value) ^ (1 / years) - 1) x 100", []string{"cagr", "compound annual"}},
	{"Debt to equity", "debt-to-equity = total debt / total shareholders' equity", []string{"debt to equity", "debt-to-equity", "leverage"}},
	{"Current ratio", "current ratio = current assets / current liabilities", []string{"current ratio", "liquidity"}},
	{"Free cash flow", "free cash flow = operating cash flow - capital expenditures", []string{"free cash flow", "fcf"}},
	{"P/E ratio", "P/E = share price / diluted EPS", []string{"p/e", "price to earnings", "pe ratio"}},
	{"Return on equity", "ROE (%) = net income / average shareholders' equity x 100", []string{"roe", "return on equity"}},
	{"R&D intensity", "R&D intensity (%) = R&D expense / revenue x 100", []string{"r&d intensity", "r&d as a percentage", "r&d ratio"}},
}

// FormulasFor returns the formulas relevant to the question.
// Only calculation and temporal comparison questions get formula context.
func FormulasFor(query string, qt types.QueryType) []Formula {
	if qt != types.QueryTypeCalculation && qt != types.QueryTypeTemporalComparison {
		return nil
	}
	lower := strings.ToLower(query)
	var out []Formula
	for _, f := range formulas {
		for _, kw := range f.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// FormulaContext renders the relevant formulas as a prompt section, or "".
func FormulaContext(query string, qt types.QueryType) string {
	fs := FormulasFor(query, qt)
	if len(fs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Use these definitions for derived metrics and show the inputs you used:\n")
	for _, f := range fs {
		b.WriteString("- ")
		b.WriteString(f.Expression)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
