package websearch

import (
	"context"
	"encoding/json"
)

// SearchOptions 单次搜索参数.
type SearchOptions struct {
	AllowedDomains []string
	MaxResults     int
}

// Provider 外部搜索服务.
// 返回的 payload 形态不固定, 由 ParseRecords 统一解析.
type Provider interface {
	Search(ctx context.Context, query string, opts SearchOptions) (json.RawMessage, error)
	Name() string
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string, opts SearchOptions) (json.RawMessage, error)

func (f ProviderFunc) Search(ctx context.Context, query string, opts SearchOptions) (json.RawMessage, error) {
	return f(ctx, query, opts)
}

func (f ProviderFunc) Name() string { return "func" }

// Record 解析后的单条搜索结果.
type Record struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}
