package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/llm/retry"
	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Evidence metadata keys set on web chunks.
const (
	MetaProvider   = "provider"
	MetaSourceHint = "source_hint"
	MetaGapItem    = "gap_item"
)

// IntegratorConfig 配置外部搜索集成.
type IntegratorConfig struct {
	AllowedDomains []string
	MaxResults     int
	Timeout        time.Duration // per call
	Concurrency    int
	RateLimit      float64 // requests per second, <=0 means unlimited
	RetryDelay     time.Duration
}

// DefaultIntegratorConfig 返回默认配置.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfigFrom(config.DefaultWebSearchConfig())
}

// IntegratorConfigFrom maps the web search section of the global config.
func IntegratorConfigFrom(c config.WebSearchConfig) IntegratorConfig {
	return IntegratorConfig{
		AllowedDomains: c.AllowedDomains,
		MaxResults:     c.MaxResults,
		Timeout:        c.Timeout,
		Concurrency:    c.Concurrency,
		RateLimit:      c.RateLimit,
		RetryDelay:     500 * time.Millisecond,
	}
}

// QueryStats 单条查询的执行情况.
type QueryStats struct {
	Query   string `json:"query"`
	Entity  string `json:"entity,omitempty"`
	Records int    `json:"records"`
	Kept    int    `json:"kept"`
	Cached  bool   `json:"cached,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IntegrationResult 合并后的证据与统计.
type IntegrationResult struct {
	Evidence types.EvidenceSet `json:"evidence"`
	Added    int               `json:"added"`
	Queries  []QueryStats      `json:"queries"`
	Duration time.Duration     `json:"duration"`
}

// Integrator runs targeted queries against a Provider and merges the results
// into an evidence set as web-sourced chunks.
type Integrator struct {
	provider Provider
	cfg      IntegratorConfig
	cache    ResultCache
	limiter  *rate.Limiter
	retryer  retry.Retryer
	observer func(err error)
	logger   *zap.Logger
}

// NewIntegrator creates an integrator. resultCache may be nil.
func NewIntegrator(provider Provider, cfg IntegratorConfig, resultCache ResultCache, logger *zap.Logger) *Integrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workflow.DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Integrator{
		provider: provider,
		cfg:      cfg,
		cache:    resultCache,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		retryer:  retry.NewBackoffRetryer(retry.TimeoutRetryPolicy(cfg.RetryDelay), logger),
		logger:   logger.With(zap.String("component", "web_search")),
	}
}

// WithObserver registers a callback invoked once per provider call.
func (in *Integrator) WithObserver(fn func(err error)) *Integrator {
	in.observer = fn
	return in
}

type queryOutcome struct {
	records []Record
	cached  bool
	err     error
}

// Integrate runs queries with bounded concurrency and merges new web evidence
// into a copy of existing. Prior evidence is never discarded. Failed queries
// degrade to no results; only caller cancellation is returned as an error.
func (in *Integrator) Integrate(ctx context.Context, existing types.EvidenceSet, queries []types.TargetedQuery) (IntegrationResult, error) {
	start := time.Now()
	merged := existing.Clone()
	result := IntegrationResult{Evidence: merged}

	queries = dedupQueries(queries)
	if len(queries) == 0 || in.provider == nil {
		result.Duration = time.Since(start)
		return result, nil
	}

	outcomes, _ := workflow.FanOut(ctx, queries, in.cfg.Concurrency,
		func(ctx context.Context, _ int, q types.TargetedQuery) (queryOutcome, error) {
			return in.run(ctx, q.Text), nil
		})
	if err := ctx.Err(); err != nil {
		return IntegrationResult{}, err
	}

	// 已有 web 证据的 URL 不再重复加入
	seen := make(map[string]struct{})
	for _, c := range existing.BySource(types.SourceWeb) {
		if c.URL != "" {
			seen[normalizeURL(c.URL)] = struct{}{}
		}
	}

	for i, q := range queries {
		out := outcomes[i]
		stats := QueryStats{Query: q.Text, Entity: q.Entity, Records: len(out.records), Cached: out.cached}
		if out.err != nil {
			stats.Error = out.err.Error()
		}

		var chunks []types.EvidenceChunk
		for pos, rec := range out.records {
			if rec.URL != "" {
				u := normalizeURL(rec.URL)
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
			}
			chunks = append(chunks, in.toChunk(q, pos, rec))
		}
		stats.Kept = merged.Add(chunks...)
		result.Added += stats.Kept
		result.Queries = append(result.Queries, stats)
	}

	result.Evidence = merged
	result.Duration = time.Since(start)
	in.logger.Info("web search integrated",
		zap.Int("queries", len(queries)),
		zap.Int("added", result.Added),
		zap.Int("evidence_total", merged.Len()),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// run executes one query: cache, rate limit, bounded call with one retry on timeout, parse, filter.
func (in *Integrator) run(ctx context.Context, query string) queryOutcome {
	if in.cache != nil {
		if recs, ok := in.cache.Get(ctx, query); ok {
			return queryOutcome{records: recs, cached: true}
		}
	}

	raw, err := retry.DoTyped(ctx, in.retryer, func() ([]byte, error) {
		if err := in.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, in.cfg.Timeout)
		defer cancel()

		payload, err := in.provider.Search(callCtx, query, SearchOptions{
			AllowedDomains: in.cfg.AllowedDomains,
			MaxResults:     in.cfg.MaxResults,
		})
		if in.observer != nil {
			in.observer(err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
				return nil, types.NewTimeoutError("websearch", err)
			}
			return nil, types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s search failed", in.provider.Name())).
				WithCause(err).WithComponent("websearch")
		}
		return payload, nil
	})
	if err != nil {
		in.logger.Warn("web search failed, degrading to empty",
			zap.String("query", query),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return queryOutcome{err: err}
	}

	records, err := ParseRecords(raw)
	if err != nil {
		in.logger.Warn("unparseable web search payload", zap.String("query", query), zap.Error(err))
		return queryOutcome{err: err}
	}
	records = filterAllowed(records, in.cfg.AllowedDomains)
	if len(records) > in.cfg.MaxResults {
		records = records[:in.cfg.MaxResults]
	}
	if in.cache != nil && len(records) > 0 {
		in.cache.Set(ctx, query, records)
	}
	return queryOutcome{records: records}
}

func (in *Integrator) toChunk(q types.TargetedQuery, pos int, rec Record) types.EvidenceChunk {
	ref := normalizeURL(rec.URL)
	if ref == "" {
		ref = "web:" + q.Text
	}
	meta := map[string]string{MetaProvider: in.provider.Name()}
	if q.SourceHint != "" {
		meta[MetaSourceHint] = q.SourceHint
	}
	if q.Item != "" {
		meta[MetaGapItem] = q.Item
	}
	return types.EvidenceChunk{
		Content:     rec.Content,
		Source:      types.SourceWeb,
		Entity:      types.NormalizeEntity(q.Entity),
		DocumentRef: ref,
		Position:    pos,
		SubQuery:    q.Text,
		Title:       rec.Title,
		URL:         rec.URL,
		Score:       rec.Score,
		Metadata:    meta,
	}
}

// TargetedFromPlan turns a sub-query plan into web queries for the direct WEB_SEARCH route.
// Without sub-queries the raw query is searched once per entity, or once overall.
func TargetedFromPlan(plan types.SubQueryPlan, entities []string, raw string) []types.TargetedQuery {
	var out []types.TargetedQuery
	for _, sq := range plan.SubQueries {
		if strings.TrimSpace(sq.Text) == "" {
			continue
		}
		out = append(out, types.TargetedQuery{Text: sq.Text, Entity: sq.Entity, Item: sq.Concept})
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range entities {
		out = append(out, types.TargetedQuery{Text: strings.TrimSpace(e + " " + raw), Entity: e})
	}
	if len(out) == 0 && strings.TrimSpace(raw) != "" {
		out = append(out, types.TargetedQuery{Text: strings.TrimSpace(raw)})
	}
	return out
}

func dedupQueries(queries []types.TargetedQuery) []types.TargetedQuery {
	seen := make(map[string]struct{}, len(queries))
	out := make([]types.TargetedQuery, 0, len(queries))
	for _, q := range queries {
		k := cacheKey(q.Text)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	return out
}

// filterAllowed drops records whose host is outside the allow-list.
// Records without a URL are kept; the provider was already scoped to the list.
func filterAllowed(records []Record, domains []string) []Record {
	if len(domains) == 0 {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if r.URL == "" || domainAllowed(r.URL, domains) {
			out = append(out, r)
		}
	}
	return out
}

func domainAllowed(rawURL string, domains []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// normalizeURL lowercases scheme and host, drops fragment, "www." and trailing slash.
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(rawURL), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
