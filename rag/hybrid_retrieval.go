package rag

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/BaSui01/finrag/types"
	"github.com/BaSui01/finrag/workflow"
	"go.uber.org/zap"
)

// RetrievalConfig 混合检索参数
type RetrievalConfig struct {
	TopK        int
	DenseTopK   int
	SparseTopK  int
	Concurrency int
}

// DefaultRetrievalConfig returns top_k=8, dense/sparse=20, 5 workers.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:        8,
		DenseTopK:   20,
		SparseTopK:  20,
		Concurrency: workflow.DefaultConcurrency,
	}
}

// SubQueryStats 单个子查询的检索统计
type SubQueryStats struct {
	SubQuery     string         `json:"sub_query"`
	DocCount     int            `json:"doc_count"`
	Entities     []string       `json:"entities"`
	ContentTypes map[string]int `json:"content_types"`
}

// RetrievalStats 一次检索的统计
type RetrievalStats struct {
	SubQueries         []SubQueryStats `json:"sub_queries"`
	Entities           []string        `json:"entities"`
	MissingCollections []string        `json:"missing_collections,omitempty"`
	FailedSearches     int             `json:"failed_searches,omitempty"`
	Duration           time.Duration   `json:"duration"`
}

// RetrievalResult 检索输出
type RetrievalResult struct {
	Evidence types.EvidenceSet `json:"evidence"`
	Stats    RetrievalStats    `json:"stats"`
}

// HybridRetriever 按实体与子查询并发检索, 合并去重.
type HybridRetriever struct {
	index  DocumentIndex
	cfg    RetrievalConfig
	logger *zap.Logger
}

// NewHybridRetriever creates a retriever over index.
func NewHybridRetriever(index DocumentIndex, cfg RetrievalConfig, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRetrievalConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.DenseTopK <= 0 {
		cfg.DenseTopK = def.DenseTopK
	}
	if cfg.SparseTopK <= 0 {
		cfg.SparseTopK = def.SparseTopK
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &HybridRetriever{
		index:  index,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "hybrid_retriever")),
	}
}

type searchTask struct {
	entity string
	query  string
}

// Retrieve 检索 entities 下的证据. 计划未分解时使用原始问题.
// 缺失的 collection 记录为 RetrievalUnavailable 并跳过, 其余实体继续.
func (h *HybridRetriever) Retrieve(ctx context.Context, entities []string, plan types.SubQueryPlan, rawQuery string) (RetrievalResult, error) {
	start := time.Now()
	var res RetrievalResult
	if len(entities) == 0 {
		return res, nil
	}

	var tasks []searchTask
	for _, e := range entities {
		entity := types.NormalizeEntity(e)
		ok, err := h.index.HasCollection(ctx, entity)
		if err != nil || !ok {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Stats.MissingCollections = append(res.Stats.MissingCollections, entity)
			h.logger.Warn("retrieval unavailable for entity",
				zap.String("entity", entity),
				zap.String("code", string(types.ErrRetrievalUnavailable)),
				zap.Error(err))
			continue
		}
		for _, q := range queriesFor(plan, entity, rawQuery) {
			tasks = append(tasks, searchTask{entity: entity, query: q})
		}
	}

	req := SearchRequest{TopK: h.cfg.TopK, DenseTopK: h.cfg.DenseTopK, SparseTopK: h.cfg.SparseTopK}
	results, errs := workflow.FanOut(ctx, tasks, h.cfg.Concurrency,
		func(ctx context.Context, _ int, t searchTask) ([]types.EvidenceChunk, error) {
			r := req
			r.Query = t.query
			hits, err := h.index.Search(ctx, t.entity, r)
			if err != nil {
				return nil, err
			}
			return hitsToEvidence(t.entity, t.query, hits), nil
		})
	if err := ctx.Err(); err != nil {
		return RetrievalResult{}, err
	}

	var all []types.EvidenceChunk
	statsByQuery := make(map[string]*SubQueryStats)
	var order []string
	for i, t := range tasks {
		if errs[i] != nil {
			res.Stats.FailedSearches++
			if errors.Is(errs[i], ErrCollectionNotFound) {
				continue
			}
			h.logger.Warn("entity search failed",
				zap.String("entity", t.entity), zap.String("query", t.query), zap.Error(errs[i]))
			continue
		}
		s, ok := statsByQuery[t.query]
		if !ok {
			s = &SubQueryStats{SubQuery: t.query, ContentTypes: map[string]int{}}
			statsByQuery[t.query] = s
			order = append(order, t.query)
		}
		s.DocCount += len(results[i])
		if len(results[i]) > 0 {
			s.Entities = appendUnique(s.Entities, t.entity)
		}
		for _, c := range results[i] {
			ct := c.ContentType
			if ct == "" {
				ct = "unknown"
			}
			s.ContentTypes[ct]++
		}
		all = append(all, results[i]...)
	}

	types.SortChunks(all)
	res.Evidence.Add(all...)

	for _, q := range order {
		s := statsByQuery[q]
		sort.Strings(s.Entities)
		res.Stats.SubQueries = append(res.Stats.SubQueries, *s)
	}
	res.Stats.Entities = res.Evidence.Entities()
	res.Stats.Duration = time.Since(start)

	h.logger.Info("hybrid retrieval completed",
		zap.Int("entities", len(entities)),
		zap.Int("searches", len(tasks)),
		zap.Int("evidence", res.Evidence.Len()),
		zap.Strings("missing_collections", res.Stats.MissingCollections),
		zap.Duration("duration", res.Stats.Duration))
	return res, nil
}

func queriesFor(plan types.SubQueryPlan, entity, rawQuery string) []string {
	if !plan.NeedsDecomposition {
		return []string{rawQuery}
	}
	var out []string
	for _, sq := range plan.SubQueriesFor(entity) {
		out = appendUnique(out, sq.Text)
	}
	if len(out) == 0 {
		return []string{rawQuery}
	}
	return out
}

func hitsToEvidence(entity, query string, hits []SearchHit) []types.EvidenceChunk {
	out := make([]types.EvidenceChunk, 0, len(hits))
	for _, h := range hits {
		pos, _ := strconv.Atoi(h.Metadata[MetaPosition])
		ref := h.Metadata[MetaDocumentRef]
		if ref == "" {
			ref = h.ID
		}
		out = append(out, types.EvidenceChunk{
			Content:     h.Content,
			Source:      types.SourceIndex,
			Entity:      entity,
			DocumentRef: ref,
			Position:    pos,
			SubQuery:    query,
			Title:       h.Metadata[MetaTitle],
			ContentType: h.Metadata[MetaContentType],
			Score:       h.Score,
		})
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
