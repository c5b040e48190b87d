package answer

import (
	"testing"

	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelTable = `Here is the comparison.

| Metric | Apple (AAPL) | MSFT |
|:---|---:|---:|
| **Revenue** | $383.3 billion | $211.9 billion |
| Net income | $97.0 billion | |

Apple reported higher revenue.`

func TestParseTable(t *testing.T) {
	t.Parallel()

	tbl, ok := ParseTable(modelTable)
	require.True(t, ok)
	assert.Equal(t, []string{"APPLE_(AAPL)", "MSFT"}, tbl.Entities)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Revenue", tbl.Rows[0].Metric)
	assert.Equal(t, "$211.9 billion", tbl.Rows[0].Values["MSFT"])
	assert.Equal(t, "", tbl.Rows[1].Values["MSFT"])

	_, ok = ParseTable("no table here\n| just | one line |")
	assert.False(t, ok)
	_, ok = ParseTable("| Metric | AAPL |\n|---|---|")
	assert.False(t, ok, "header without rows")
}

func TestComparisonTable_Canonicalize(t *testing.T) {
	t.Parallel()

	tbl, ok := ParseTable(modelTable)
	require.True(t, ok)

	c := tbl.Canonicalize([]string{"msft", "aapl", "nvda"})
	assert.Equal(t, []string{"MSFT", "AAPL", "NVDA"}, c.Entities)
	assert.Equal(t, "$383.3 billion", c.Rows[0].Values["AAPL"])
	assert.Equal(t, NotSpecified, c.Rows[1].Values["MSFT"])
	assert.Equal(t, NotSpecified, c.Rows[0].Values["NVDA"])

	want := "| Metric | MSFT | AAPL | NVDA |\n" +
		"|---|---|---|---|\n" +
		"| Revenue | $211.9 billion | $383.3 billion | not specified |\n" +
		"| Net income | not specified | $97.0 billion | not specified |"
	assert.Equal(t, want, c.Render())
}

func TestComparisonTable_RenderEscapesPipes(t *testing.T) {
	t.Parallel()

	tbl := ComparisonTable{
		Entities: []string{"AAPL"},
		Rows:     []TableRow{{Metric: "P/E | trailing", Values: map[string]string{"AAPL": "29.5"}}},
	}
	assert.Equal(t, "| Metric | AAPL |\n|---|---|\n| P/E / trailing | 29.5 |", tbl.Render())
}

func TestMatchColumn(t *testing.T) {
	t.Parallel()

	headers := []string{"APPLE_(AAPL)", "BRK.B", "MSFT"}
	assert.Equal(t, "MSFT", matchColumn(headers, "MSFT"))
	assert.Equal(t, "APPLE_(AAPL)", matchColumn(headers, "AAPL"))
	assert.Equal(t, "BRK.B", matchColumn(headers, types.NormalizeEntity("brk.b")))
	assert.Equal(t, "NVDA", matchColumn(headers, "NVDA"))
}

func TestFormulasFor(t *testing.T) {
	t.Parallel()

	fs := FormulasFor("What was Apple's gross margin and YoY growth?", types.QueryTypeCalculation)
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Gross margin", "Year-over-year growth"}, names)

	assert.Empty(t, FormulasFor("What was Apple's gross margin?", types.QueryTypeSingleEntity))
	assert.Equal(t, "", FormulaContext("Revenue trend", types.QueryTypeTemporalComparison))
	assert.Contains(t, FormulaContext("How did revenue change?", types.QueryTypeTemporalComparison),
		"growth (%) = (current period - prior period) / prior period x 100")
}
