package chart

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/types"
)

// ErrNoNumericValue is returned for cells with no usable figure.
var ErrNoNumericValue = errors.New("no numeric value")

var placeholders = []string{answer.NotSpecified, "n/a", "not available", "not disclosed", "not reported", "unknown"}

var (
	numberRe = regexp.MustCompile(`(\(\s*)?([-−–])?\s*(\$)?\s*(\d[\d,]*(?:\.\d+)?)`)
	// 紧跟在数字后的单位/量级, 出现即视为金额或比率
	scaleRe = regexp.MustCompile(`(?i)^\s*(?:%|percent\b|trillion\b|billion\b|million\b|thousand\b|bn\b|mn\b|[tbmk]\b)`)
	// FY2023 / CY 2022
	fiscalPrefixRe = regexp.MustCompile(`(?i)\b(?:FY|CY)\s?$`)
	// Q4 / H1
	partPrefixRe = regexp.MustCompile(`(?i)\b[QH]$`)
)

type numericCandidate struct {
	value  float64
	strong bool // "$" 前缀或量级后缀
	label  bool // 年份或期间标签
}

// ExtractNumeric returns the figure in a table cell, keeping its sign.
// Units and scale words are ignored: "$350.018 billion" is 350.018.
// Accounting negatives "(1,234)" are negative. A "$"-prefixed or
// scale-suffixed figure wins over bare numbers; period labels such as
// "FY2023", "Q4" or a bare year are never returned.
func ExtractNumeric(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	lower := strings.ToLower(s)
	if s == "" || s == "-" || s == "—" {
		return 0, ErrNoNumericValue
	}
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return 0, ErrNoNumericValue
		}
	}

	var first *numericCandidate
	for _, m := range numberRe.FindAllStringSubmatchIndex(s, -1) {
		c, ok := candidateAt(s, m)
		if !ok || c.label {
			continue
		}
		if c.strong {
			return c.value, nil
		}
		if first == nil {
			first = &c
		}
	}
	if first == nil {
		return 0, ErrNoNumericValue
	}
	return first.value, nil
}

// candidateAt 解析 numberRe 的一次匹配 (submatch 下标).
func candidateAt(s string, m []int) (numericCandidate, bool) {
	digits := s[m[8]:m[9]]
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return numericCandidate{}, false
	}
	paren, sign, dollar := m[2] >= 0, m[4] >= 0, m[6] >= 0
	if sign && m[4] > 0 && isWordByte(s[m[4]-1]) {
		// 区间或连字符 "10-15%", 不是负号
		sign = false
	}
	if paren || sign {
		v = -v
	}

	c := numericCandidate{value: v}
	c.strong = dollar || scaleRe.MatchString(s[m[1]:])
	if c.strong {
		return c, true
	}

	prefix := s[:m[0]]
	switch {
	case fiscalPrefixRe.MatchString(prefix):
		c.label = true
	case partPrefixRe.MatchString(prefix) && len(digits) == 1 && digits >= "1" && digits <= "4":
		c.label = true
	case isYear(digits):
		c.label = true
	}
	return c, true
}

func isWordByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isYear(digits string) bool {
	if len(digits) != 4 {
		return false
	}
	return strings.HasPrefix(digits, "19") || strings.HasPrefix(digits, "20")
}

// Data is the numeric view of a comparison table.
type Data struct {
	Metrics  []string
	Entities []string
	// Values[i][j] is metric i for entity j; Present marks cells that parsed.
	Values  [][]float64
	Present [][]bool
}

// Extract keeps metrics with at least one numeric cell, in table order,
// capped at maxMetrics.
func Extract(t answer.ComparisonTable, maxMetrics int) (Data, error) {
	d := Data{Entities: append([]string(nil), t.Entities...)}
	if len(d.Entities) == 0 {
		return d, types.NewError(types.ErrChartParseFailure, "table has no entity columns").WithComponent("chart")
	}
	for _, row := range t.Rows {
		if maxMetrics > 0 && len(d.Metrics) >= maxMetrics {
			break
		}
		vals := make([]float64, len(d.Entities))
		present := make([]bool, len(d.Entities))
		found := false
		for j, e := range d.Entities {
			v, err := ExtractNumeric(row.Values[e])
			if err != nil {
				continue
			}
			vals[j], present[j], found = v, true, true
		}
		if !found {
			continue
		}
		d.Metrics = append(d.Metrics, row.Metric)
		d.Values = append(d.Values, vals)
		d.Present = append(d.Present, present)
	}
	if len(d.Metrics) == 0 {
		return d, types.NewError(types.ErrChartParseFailure, "no numeric metrics in table").WithComponent("chart")
	}
	return d, nil
}

var errNoTable = types.NewError(types.ErrChartParseFailure, "answer has no comparison table").WithComponent("chart")
