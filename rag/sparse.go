package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BaSui01/finrag/llm/embedding"
	"go.uber.org/zap"
)

// SparseDoc 稀疏索引中的文档
type SparseDoc struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SparseHit 稀疏检索命中
type SparseHit struct {
	SparseDoc
	Score float64 `json:"score"`
}

// SparseIndex 词法检索后端. collection 不存在时 Search 返回空结果.
type SparseIndex interface {
	Index(ctx context.Context, collection string, docs []SparseDoc) error
	Search(ctx context.Context, collection, query string, topK int) ([]SparseHit, error)
}

// BM25 参数
const (
	DefaultBM25K1 = 1.2
	DefaultBM25B  = 0.75
)

// BM25Index 进程内 BM25 索引, 每个 collection 一个语料.
// persistDir 非空时语料以 JSON 落盘, 重启后按需加载.
type BM25Index struct {
	k1, b      float64
	persistDir string
	mu         sync.RWMutex
	corpora    map[string]*bm25Corpus
	logger     *zap.Logger
}

type bm25Corpus struct {
	docs      []SparseDoc
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

// NewBM25Index 创建 BM25 索引
func NewBM25Index(persistDir string, logger *zap.Logger) *BM25Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BM25Index{
		k1:         DefaultBM25K1,
		b:          DefaultBM25B,
		persistDir: persistDir,
		corpora:    make(map[string]*bm25Corpus),
		logger:     logger.With(zap.String("component", "bm25_index")),
	}
}

// Index 添加或替换文档 (按 ID), 并重算统计信息.
func (x *BM25Index) Index(_ context.Context, collection string, docs []SparseDoc) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	existing, err := x.loadLocked(collection)
	if err != nil {
		return err
	}
	// 写时复制, 并发中的 Search 仍持有旧语料
	corpus := &bm25Corpus{}
	if existing != nil {
		corpus.docs = append([]SparseDoc(nil), existing.docs...)
	}

	byID := make(map[string]int, len(corpus.docs))
	for i, d := range corpus.docs {
		byID[d.ID] = i
	}
	for _, d := range docs {
		if i, ok := byID[d.ID]; ok {
			corpus.docs[i] = d
			continue
		}
		byID[d.ID] = len(corpus.docs)
		corpus.docs = append(corpus.docs, d)
	}
	corpus.computeStats()
	x.corpora[collection] = corpus

	if x.persistDir != "" {
		if err := x.save(collection, corpus.docs); err != nil {
			return err
		}
	}
	x.logger.Debug("sparse documents indexed",
		zap.String("collection", collection),
		zap.Int("added", len(docs)),
		zap.Int("total", len(corpus.docs)))
	return nil
}

// Search 返回 BM25 得分最高的 topK 个文档, 得分为 0 的文档不返回.
func (x *BM25Index) Search(_ context.Context, collection, query string, topK int) ([]SparseHit, error) {
	x.mu.RLock()
	corpus, ok := x.corpora[collection]
	x.mu.RUnlock()

	if !ok {
		x.mu.Lock()
		var err error
		corpus, err = x.loadLocked(collection)
		x.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	if corpus == nil || len(corpus.docs) == 0 {
		return nil, nil
	}

	queryTerms := embedding.Tokenize(query)
	hits := make([]SparseHit, 0, len(corpus.docs))
	for i, doc := range corpus.docs {
		score := 0.0
		docLen := float64(corpus.docLens[i])
		for _, term := range queryTerms {
			tf, ok := corpus.termFreqs[i][term]
			if !ok {
				continue
			}
			numerator := float64(tf) * (x.k1 + 1.0)
			denominator := float64(tf) + x.k1*(1.0-x.b+x.b*(docLen/corpus.avgDocLen))
			score += corpus.idf[term] * (numerator / denominator)
		}
		if score > 0 {
			hits = append(hits, SparseHit{SparseDoc: doc, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// computeStats 计算 BM25 统计信息
func (c *bm25Corpus) computeStats() {
	totalLen := 0
	c.termFreqs = make([]map[string]int, len(c.docs))
	c.docLens = make([]int, len(c.docs))
	termDocCount := make(map[string]int)

	for i, doc := range c.docs {
		terms := embedding.Tokenize(doc.Content)
		c.docLens[i] = len(terms)
		totalLen += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		c.termFreqs[i] = tf
		for term := range tf {
			termDocCount[term]++
		}
	}

	c.avgDocLen = 1
	if len(c.docs) > 0 && totalLen > 0 {
		c.avgDocLen = float64(totalLen) / float64(len(c.docs))
	}

	n := float64(len(c.docs))
	c.idf = make(map[string]float64, len(termDocCount))
	for term, df := range termDocCount {
		c.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

func (x *BM25Index) path(collection string) string {
	return filepath.Join(x.persistDir, "sparse", collection+".json")
}

// loadLocked returns the cached corpus or loads it from disk. nil means absent.
func (x *BM25Index) loadLocked(collection string) (*bm25Corpus, error) {
	if c, ok := x.corpora[collection]; ok {
		return c, nil
	}
	if x.persistDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(x.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sparse corpus %s: %w", collection, err)
	}
	var docs []SparseDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode sparse corpus %s: %w", collection, err)
	}
	c := &bm25Corpus{docs: docs}
	c.computeStats()
	x.corpora[collection] = c
	return c, nil
}

func (x *BM25Index) save(collection string, docs []SparseDoc) error {
	p := x.path(collection)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create sparse dir: %w", err)
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode sparse corpus: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write sparse corpus %s: %w", collection, err)
	}
	return nil
}
