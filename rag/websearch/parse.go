package websearch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// 各家搜索服务对同一字段的不同命名
var (
	urlKeys     = []string{"url", "link", "href", "source"}
	titleKeys   = []string{"title", "name", "headline"}
	contentKeys = []string{"content", "snippet", "body", "text", "description", "raw_content"}
	scoreKeys   = []string{"score", "relevance", "relevance_score"}
	listKeys    = []string{"results", "data", "items", "organic_results"}
)

// ParseRecords normalizes a search payload into records.
// Accepted shapes: a JSON string (itself JSON or plain text), an object carrying
// a results list, a bare list of records, or a single record object.
// Records without content are dropped.
func ParseRecords(raw json.RawMessage) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("websearch: decode string payload: %w", err)
		}
		return parseString(s)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("websearch: decode list payload: %w", err)
		}
		return parseList(items), nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("websearch: decode object payload: %w", err)
		}
		for _, k := range listKeys {
			if v, ok := obj[k]; ok {
				return ParseRecords(v)
			}
		}
		if rec, ok := recordFromObject(obj); ok {
			return []Record{rec}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("websearch: unsupported payload starting with %q", raw[0])
}

// parseString handles services that return results as a string.
// A string holding JSON is parsed recursively; anything else is one content record.
func parseString(s string) ([]Record, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && json.Valid([]byte(s)) {
		return ParseRecords(json.RawMessage(s))
	}
	return []Record{{Content: s}}, nil
}

func parseList(items []json.RawMessage) []Record {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '{':
			var obj map[string]json.RawMessage
			if json.Unmarshal(item, &obj) != nil {
				continue
			}
			if rec, ok := recordFromObject(obj); ok {
				out = append(out, rec)
			}
		case '"':
			var s string
			if json.Unmarshal(item, &s) == nil && strings.TrimSpace(s) != "" {
				out = append(out, Record{Content: strings.TrimSpace(s)})
			}
		}
	}
	return out
}

func recordFromObject(obj map[string]json.RawMessage) (Record, bool) {
	rec := Record{
		URL:     firstString(obj, urlKeys),
		Title:   firstString(obj, titleKeys),
		Content: firstString(obj, contentKeys),
	}
	for _, k := range scoreKeys {
		if v, ok := obj[k]; ok {
			var f float64
			if json.Unmarshal(v, &f) == nil {
				rec.Score = f
				break
			}
		}
	}
	if rec.Content == "" {
		return Record{}, false
	}
	return rec, true
}

func firstString(obj map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
