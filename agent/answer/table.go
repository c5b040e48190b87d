package answer

import (
	"strings"

	"github.com/BaSui01/finrag/types"
)

// NotSpecified fills table cells the evidence does not cover.
const NotSpecified = "not specified"

// ComparisonTable is the fixed comparison layout: one row per metric, one
// column per entity.
type ComparisonTable struct {
	Entities []string   `json:"entities"`
	Rows     []TableRow `json:"rows"`
}

// TableRow 单个指标一行
type TableRow struct {
	Metric string            `json:"metric"`
	Values map[string]string `json:"values"` // entity -> cell
}

// Render prints the table as markdown.
func (t ComparisonTable) Render() string {
	var b strings.Builder
	b.WriteString("| Metric |")
	for _, e := range t.Entities {
		b.WriteString(" " + e + " |")
	}
	b.WriteString("\n|---|")
	for range t.Entities {
		b.WriteString("---|")
	}
	for _, r := range t.Rows {
		b.WriteString("\n| " + escapeCell(r.Metric) + " |")
		for _, e := range t.Entities {
			v := strings.TrimSpace(r.Values[e])
			if v == "" {
				v = NotSpecified
			}
			b.WriteString(" " + escapeCell(v) + " |")
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "/")
}

// ParseTable finds the first markdown table in text. The first column is the
// metric; header cells after it are entity columns, normalized.
func ParseTable(text string) (ComparisonTable, bool) {
	lines := strings.Split(text, "\n")
	start := -1
	for i := 0; i+1 < len(lines); i++ {
		if isRow(lines[i]) && isSeparator(lines[i+1]) {
			start = i
			break
		}
	}
	if start < 0 {
		return ComparisonTable{}, false
	}

	headers := splitRow(lines[start])
	if len(headers) < 2 {
		return ComparisonTable{}, false
	}
	var t ComparisonTable
	for _, h := range headers[1:] {
		t.Entities = append(t.Entities, types.NormalizeEntity(h))
	}

	for _, line := range lines[start+2:] {
		if !isRow(line) {
			break
		}
		cells := splitRow(line)
		if len(cells) == 0 || strings.TrimSpace(cells[0]) == "" {
			continue
		}
		row := TableRow{Metric: strings.Trim(strings.TrimSpace(cells[0]), "*"), Values: make(map[string]string)}
		for j, e := range t.Entities {
			if j+1 < len(cells) {
				row.Values[e] = strings.TrimSpace(cells[j+1])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, len(t.Rows) > 0
}

// Canonicalize reorders columns to entities, filling missing ones with NotSpecified.
// Header names are matched after entity normalization.
func (t ComparisonTable) Canonicalize(entities []string) ComparisonTable {
	out := ComparisonTable{}
	source := make(map[string]string, len(entities))
	for _, e := range entities {
		n := types.NormalizeEntity(e)
		out.Entities = append(out.Entities, n)
		source[n] = matchColumn(t.Entities, n)
	}
	for _, r := range t.Rows {
		nr := TableRow{Metric: r.Metric, Values: make(map[string]string, len(out.Entities))}
		for _, e := range out.Entities {
			v := strings.TrimSpace(r.Values[source[e]])
			if v == "" {
				v = NotSpecified
			}
			nr.Values[e] = v
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// matchColumn finds the header for entity: exact match, else a header that
// carries the entity as a token (e.g. "APPLE_(AAPL)").
func matchColumn(headers []string, entity string) string {
	for _, h := range headers {
		if h == entity {
			return h
		}
	}
	for _, h := range headers {
		tokens := strings.FieldsFunc(h, func(r rune) bool {
			return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.')
		})
		for _, tok := range tokens {
			if tok == entity {
				return h
			}
		}
	}
	return entity
}

func isRow(line string) bool {
	l := strings.TrimSpace(line)
	return strings.HasPrefix(l, "|") && strings.Count(l, "|") >= 2
}

func isSeparator(line string) bool {
	if !isRow(line) {
		return false
	}
	for _, c := range splitRow(line) {
		c = strings.TrimSpace(c)
		if c == "" || strings.Trim(c, ":-") != "" {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	l := strings.TrimSpace(line)
	l = strings.TrimPrefix(l, "|")
	l = strings.TrimSuffix(l, "|")
	parts := strings.Split(l, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
