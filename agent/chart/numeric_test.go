package chart

import (
	"strconv"
	"testing"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExtractNumeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cell string
		want float64
		ok   bool
	}{
		{"$350.018 billion", 350.018, true},
		{"-52.69%", -52.69, true},
		{"not specified", 0, false},
		{"Not Specified", 0, false},
		{"N/A", 0, false},
		{"", 0, false},
		{"-", 0, false},
		{"$1,234.5 million", 1234.5, true},
		{"(2,100)", -2100, true},
		{"−3.4%", -3.4, true},
		{"EPS $6.13 (diluted)", 6.13, true},
		{"year-over-year growth of 12%", 12, true},
		{"no figure given", 0, false},
		{"FY2023: $383.3 billion", 383.3, true},
		{"Q4 2023 revenue $119.6B", 119.6, true},
		{"FY 2022 net income 99.8 billion", 99.8, true},
		{"H1 2024 margin 45.9%", 45.9, true},
		{"2023: 4,512 employees", 4512, true},
		{"10-15%", 15, true},
		{"fiscal 2023", 0, false},
		{"Q3", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, err := ExtractNumeric(tt.cell)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrNoNumericValue)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractNumeric_FormattedFigures(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Float64Range(-1e6, 1e6).Draw(t, "v")
		unit := rapid.SampledFrom([]string{" billion", " million", "%", "", " USD"}).Draw(t, "unit")
		s := strconv.FormatFloat(v, 'f', 3, 64)
		want, _ := strconv.ParseFloat(s, 64)

		cell := s + unit
		if want >= 0 && rapid.Bool().Draw(t, "dollar") {
			cell = "$" + cell
		}
		got, err := ExtractNumeric(cell)
		if err != nil {
			t.Fatalf("ExtractNumeric(%q): %v", cell, err)
		}
		if got != want && !(want == 0 && got == 0) {
			t.Fatalf("ExtractNumeric(%q) = %v, want %v", cell, got, want)
		}
	})
}

func comparisonTable(rows int) answer.ComparisonTable {
	t := answer.ComparisonTable{Entities: []string{"AAPL", "MSFT", "NVDA"}}
	for i := 0; i < rows; i++ {
		t.Rows = append(t.Rows, answer.TableRow{
			Metric: "metric " + strconv.Itoa(i),
			Values: map[string]string{"AAPL": "$" + strconv.Itoa(i+1) + " billion", "MSFT": "not specified", "NVDA": strconv.Itoa(i) + "%"},
		})
	}
	return t
}

func TestExtract(t *testing.T) {
	t.Parallel()

	tbl := answer.ComparisonTable{
		Entities: []string{"AAPL", "MSFT", "NVDA"},
		Rows: []answer.TableRow{
			{Metric: "Revenue", Values: map[string]string{"AAPL": "$383.3 billion", "MSFT": "$211.9 billion", "NVDA": "not specified"}},
			{Metric: "Guidance", Values: map[string]string{"AAPL": "not specified", "MSFT": "n/a"}},
			{Metric: "Net margin", Values: map[string]string{"AAPL": "25.3%", "NVDA": "-4.1%"}},
		},
	}
	d, err := Extract(tbl, 8)
	require.NoError(t, err)
	assert.Equal(t, []string{"Revenue", "Net margin"}, d.Metrics)
	assert.Equal(t, []float64{383.3, 211.9, 0}, d.Values[0])
	assert.Equal(t, []bool{true, true, false}, d.Present[0])
	assert.Equal(t, []bool{true, false, true}, d.Present[1])
	assert.InDelta(t, -4.1, d.Values[1][2], 1e-9)
}

func TestExtract_CapsMetrics(t *testing.T) {
	t.Parallel()

	d, err := Extract(comparisonTable(12), 8)
	require.NoError(t, err)
	assert.Len(t, d.Metrics, 8)
	assert.Equal(t, "metric 7", d.Metrics[7])
}

func TestExtract_NoNumericMetrics(t *testing.T) {
	t.Parallel()

	tbl := answer.ComparisonTable{
		Entities: []string{"AAPL"},
		Rows:     []answer.TableRow{{Metric: "Guidance", Values: map[string]string{"AAPL": "not specified"}}},
	}
	_, err := Extract(tbl, 8)
	assert.True(t, types.IsErrorCode(err, types.ErrChartParseFailure))

	_, err = Extract(answer.ComparisonTable{}, 8)
	assert.True(t, types.IsErrorCode(err, types.ErrChartParseFailure))
}
