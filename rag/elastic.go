package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/finrag/config"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// ElasticSparseIndex 基于 Elasticsearch match 查询的词法检索后端.
// 每个 collection 对应一个索引: IndexPrefix + collection.
type ElasticSparseIndex struct {
	client *elasticsearch.Client
	prefix string
	logger *zap.Logger
}

// NewElasticSparseIndex creates the client from config.
func NewElasticSparseIndex(cfg config.ElasticsearchConfig, logger *zap.Logger) (*ElasticSparseIndex, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return NewElasticSparseIndexWithClient(client, cfg.IndexPrefix, logger), nil
}

// NewElasticSparseIndexWithClient wraps an existing client.
func NewElasticSparseIndexWithClient(client *elasticsearch.Client, prefix string, logger *zap.Logger) *ElasticSparseIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElasticSparseIndex{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "elastic_sparse_index")),
	}
}

func (e *ElasticSparseIndex) indexName(collection string) string {
	return strings.ToLower(e.prefix + collection)
}

// Index 通过 bulk API 写入文档并等待刷新
func (e *ElasticSparseIndex) Index(ctx context.Context, collection string, docs []SparseDoc) error {
	if len(docs) == 0 {
		return nil
	}
	index := e.indexName(collection)

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode bulk doc: %w", err)
		}
	}

	res, err := e.client.Bulk(
		bytes.NewReader(body.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk error: %s", res.Status())
	}

	var parsed struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if parsed.Errors {
		return fmt.Errorf("elasticsearch bulk reported item errors for %s", index)
	}
	return nil
}

// Search 执行 match 查询. 索引不存在时返回空结果.
func (e *ElasticSparseIndex) Search(ctx context.Context, collection, query string, topK int) ([]SparseHit, error) {
	if topK <= 0 {
		topK = 10
	}
	q := map[string]any{
		"size": topK,
		"query": map[string]any{
			"match": map[string]any{"content": query},
		},
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName(collection)),
		e.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string    `json:"_id"`
				Score  float64   `json:"_score"`
				Source SparseDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]SparseHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		doc := h.Source
		if doc.ID == "" {
			doc.ID = h.ID
		}
		hits = append(hits, SparseHit{SparseDoc: doc, Score: h.Score})
	}
	e.logger.Debug("sparse search completed",
		zap.String("collection", collection),
		zap.Int("hits", len(hits)))
	return hits, nil
}

var (
	_ SparseIndex = (*BM25Index)(nil)
	_ SparseIndex = (*ElasticSparseIndex)(nil)
)
