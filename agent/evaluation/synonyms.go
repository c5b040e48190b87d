package evaluation

import (
	"regexp"
	"strings"
)

type metricEntry struct {
	canonical  string
	synonyms   []string
	sourceHint string
}

// 顺序即匹配优先级, 较长的名称放前面
var metricTable = []metricEntry{
	{"gross margin", []string{"gross profit margin", "gross profit"}, "10-K income statement"},
	{"operating margin", []string{"operating profit margin", "EBIT margin"}, "10-K income statement"},
	{"net margin", []string{"net profit margin", "profit margin"}, "10-K income statement"},
	{"operating income", []string{"operating profit", "EBIT"}, "10-K income statement"},
	{"net income", []string{"net earnings", "net profit"}, "10-K income statement"},
	{"revenue", []string{"net sales", "total revenue"}, "10-K income statement"},
	{"eps", []string{"earnings per share", "diluted EPS"}, "earnings release"},
	{"r&d expense", []string{"research and development expense", "R&D spending"}, "10-K income statement"},
	{"free cash flow", []string{"FCF", "operating cash flow minus capex"}, "10-K cash flow statement"},
	{"cash", []string{"cash and cash equivalents", "cash position"}, "10-K balance sheet"},
	{"total debt", []string{"long-term debt", "total borrowings"}, "10-K balance sheet"},
	{"total assets", []string{"balance sheet total assets", "assets"}, "10-K balance sheet"},
	{"yoy growth", []string{"year-over-year growth", "annual growth rate"}, "earnings release"},
	{"dividend", []string{"dividends per share", "dividend payout"}, "earnings release"},
	{"guidance", []string{"outlook", "forward guidance"}, "earnings call transcript"},
}

var aliasIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, e := range metricTable {
		idx[e.canonical] = i
		for _, s := range e.synonyms {
			idx[strings.ToLower(s)] = i
		}
	}
	// 常见写法
	idx["sales"] = idx["revenue"]
	idx["research and development"] = idx["r&d expense"]
	idx["r&d"] = idx["r&d expense"]
	idx["earnings per share"] = idx["eps"]
	return idx
}()

const defaultSourceHint = "10-K annual report"

func normalizeMetric(m string) string {
	return strings.ToLower(strings.Join(strings.Fields(m), " "))
}

// CanonicalMetric maps a metric name or synonym to its canonical form.
// Unknown names are returned normalized.
func CanonicalMetric(m string) string {
	n := normalizeMetric(m)
	if i, ok := aliasIndex[n]; ok {
		return metricTable[i].canonical
	}
	return n
}

// Variants returns 2-3 search phrasings for a metric, the given name first.
func Variants(metric string) []string {
	name := strings.TrimSpace(metric)
	if name == "" {
		return nil
	}
	out := []string{name}
	if i, ok := aliasIndex[normalizeMetric(name)]; ok {
		e := metricTable[i]
		for _, alt := range append([]string{e.canonical}, e.synonyms...) {
			if len(out) == 3 {
				break
			}
			if normalizeMetric(alt) != normalizeMetric(name) {
				out = append(out, alt)
			}
		}
		return out
	}
	return append(out, name+" reported figures")
}

// SourceHint suggests the filing section where a metric is usually found.
func SourceHint(metric string) string {
	if i, ok := aliasIndex[normalizeMetric(metric)]; ok {
		return metricTable[i].sourceHint
	}
	return defaultSourceHint
}

func aliasRegexp(term string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^a-z0-9&])` + regexp.QuoteMeta(term) + `($|[^a-z0-9&])`)
}

var aliasPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(aliasIndex))
	for alias := range aliasIndex {
		out[alias] = aliasRegexp(strings.ToLower(alias))
	}
	return out
}()

// MetricsInText returns the canonical metrics mentioned in text, in table order.
func MetricsInText(text string) []string {
	lower := strings.ToLower(text)
	hit := make(map[int]bool)
	for alias, re := range aliasPatterns {
		if re.MatchString(lower) {
			hit[aliasIndex[alias]] = true
		}
	}
	var out []string
	for i, e := range metricTable {
		if hit[i] {
			out = append(out, e.canonical)
		}
	}
	return out
}

var yearPattern = regexp.MustCompile(`\b(?:FY\s?)?((?:19|20)\d{2})\b`)

// YearsInText returns the four-digit years mentioned in text, in order, deduplicated.
func YearsInText(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range yearPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func isYearItem(item string) bool {
	return yearPattern.MatchString(item) || strings.Contains(strings.ToLower(item), "fiscal")
}
