package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/BaSui01/finrag/types"
	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ErrCollectionNotFound 实体没有对应的 collection
var ErrCollectionNotFound = errors.New("collection not found")

// 元数据键
const (
	MetaEntity      = "entity"
	MetaDocumentRef = "document_ref"
	MetaPosition    = "position"
	MetaContentType = "content_type"
	MetaTitle       = "title"
)

// SearchRequest 单次 collection 检索参数
type SearchRequest struct {
	Query      string
	TopK       int
	DenseTopK  int
	SparseTopK int
}

// SearchHit 融合后的检索命中
type SearchHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// DocumentIndex 按实体划分的文档索引服务. 读取时从不创建 collection.
type DocumentIndex interface {
	HasCollection(ctx context.Context, entity string) (bool, error)
	Search(ctx context.Context, entity string, req SearchRequest) ([]SearchHit, error)
}

// RegistryConfig 索引注册表配置
type RegistryConfig struct {
	PersistDir       string
	Compress         bool
	CollectionPrefix string
	HandleCacheSize  int
	RRFK             int
}

// RegistryConfigFrom builds a registry config from the index section.
func RegistryConfigFrom(ic config.IndexConfig) RegistryConfig {
	return RegistryConfig{
		PersistDir:       ic.PersistDir,
		Compress:         ic.Compress,
		CollectionPrefix: ic.CollectionPrefix,
		HandleCacheSize:  ic.HandleCacheSize,
		RRFK:             ic.RRFK,
	}
}

// IndexRegistry 管理每个实体的 chromem collection 与稀疏索引.
// collection 句柄缓存在 LRU 中, 由依赖容器持有, 不是全局单例.
type IndexRegistry struct {
	db       *chromem.DB
	embedder embedding.Provider
	embedFn  chromem.EmbeddingFunc
	sparse   SparseIndex
	handles  *lru.Cache[string, *chromem.Collection]
	cfg      RegistryConfig
	createMu sync.Mutex
	logger   *zap.Logger
}

// NewIndexRegistry 创建注册表. PersistDir 为空时使用内存数据库.
func NewIndexRegistry(cfg RegistryConfig, embedder embedding.Provider, sparse SparseIndex, logger *zap.Logger) (*IndexRegistry, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandleCacheSize <= 0 {
		cfg.HandleCacheSize = 256
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if sparse == nil {
		sparse = NewBM25Index(cfg.PersistDir, logger)
	}

	var db *chromem.DB
	if cfg.PersistDir != "" {
		var err error
		// 稠密与稀疏索引分目录存放: <dir>/dense, <dir>/sparse
		denseDir := filepath.Join(cfg.PersistDir, "dense")
		db, err = chromem.NewPersistentDB(denseDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent index at %s: %w", denseDir, err)
		}
	} else {
		db = chromem.NewDB()
	}

	handles, err := lru.New[string, *chromem.Collection](cfg.HandleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}

	return &IndexRegistry{
		db:       db,
		embedder: embedder,
		embedFn:  ChromemEmbeddingFunc(embedder),
		sparse:   sparse,
		handles:  handles,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "index_registry")),
	}, nil
}

// CollectionName maps an entity to its collection name.
func (r *IndexRegistry) CollectionName(entity string) string {
	return r.cfg.CollectionPrefix + strings.ToLower(types.NormalizeEntity(entity))
}

// lookup 返回已存在的 collection; 不存在时返回 ErrCollectionNotFound, 不缓存未命中.
func (r *IndexRegistry) lookup(entity string) (*chromem.Collection, error) {
	name := r.CollectionName(entity)
	if col, ok := r.handles.Get(name); ok {
		return col, nil
	}
	col := r.db.GetCollection(name, r.embedFn)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	r.handles.Add(name, col)
	return col, nil
}

// HasCollection implements DocumentIndex.
func (r *IndexRegistry) HasCollection(_ context.Context, entity string) (bool, error) {
	_, err := r.lookup(entity)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	return err == nil, err
}

// EnsureCollection 仅供写入路径使用: 获取或创建实体的 collection.
func (r *IndexRegistry) EnsureCollection(entity string) (*chromem.Collection, error) {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	if col, err := r.lookup(entity); err == nil {
		return col, nil
	}
	name := r.CollectionName(entity)
	col, err := r.db.GetOrCreateCollection(name, map[string]string{MetaEntity: types.NormalizeEntity(entity)}, r.embedFn)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	r.handles.Add(name, col)
	r.logger.Info("collection created", zap.String("collection", name))
	return col, nil
}

// Search implements DocumentIndex: dense + sparse fused by RRF.
func (r *IndexRegistry) Search(ctx context.Context, entity string, req SearchRequest) ([]SearchHit, error) {
	col, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	name := r.CollectionName(entity)

	hits := make(map[string]SearchHit)
	var denseIDs, sparseIDs RankedList

	if n := minInt(req.DenseTopK, col.Count()); n > 0 {
		vec, err := r.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		results, err := col.QueryEmbedding(ctx, Float64ToFloat32(vec), n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("dense search %s: %w", name, err)
		}
		for _, res := range results {
			denseIDs = append(denseIDs, res.ID)
			hits[res.ID] = SearchHit{ID: res.ID, Content: res.Content, Metadata: res.Metadata}
		}
	}

	if req.SparseTopK > 0 {
		sparseHits, err := r.sparse.Search(ctx, name, req.Query, req.SparseTopK)
		if err != nil {
			// 稀疏后端失败时退化为纯稠密检索
			r.logger.Warn("sparse search failed, using dense results only",
				zap.String("collection", name), zap.Error(err))
		}
		for _, h := range sparseHits {
			sparseIDs = append(sparseIDs, h.ID)
			if _, ok := hits[h.ID]; !ok {
				hits[h.ID] = SearchHit{ID: h.ID, Content: h.Content, Metadata: h.Metadata}
			}
		}
	}

	fused := ReciprocalRankFusion(denseIDs, sparseIDs, r.cfg.RRFK)
	topK := req.TopK
	if topK <= 0 || topK > len(fused) {
		topK = len(fused)
	}
	out := make([]SearchHit, 0, topK)
	for _, f := range fused[:topK] {
		h := hits[f.ID]
		h.Score = f.Score
		out = append(out, h)
	}
	return out, nil
}

// IndexedChunk 写入索引的一个块
type IndexedChunk struct {
	ID          string
	Entity      string
	DocumentRef string
	Position    int
	Title       string
	ContentType string
	Content     string
}

func (c IndexedChunk) metadata() map[string]string {
	return map[string]string{
		MetaEntity:      types.NormalizeEntity(c.Entity),
		MetaDocumentRef: c.DocumentRef,
		MetaPosition:    strconv.Itoa(c.Position),
		MetaTitle:       c.Title,
		MetaContentType: c.ContentType,
	}
}

// AddChunks 写入稠密与稀疏两侧索引, 必要时创建 collection.
func (r *IndexRegistry) AddChunks(ctx context.Context, entity string, chunks []IndexedChunk, concurrency int) error {
	if len(chunks) == 0 {
		return nil
	}
	col, err := r.EnsureCollection(entity)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]chromem.Document, len(chunks))
	sparseDocs := make([]SparseDoc, len(chunks))
	for i, c := range chunks {
		meta := c.metadata()
		docs[i] = chromem.Document{
			ID:        c.ID,
			Metadata:  meta,
			Embedding: Float64ToFloat32(vectors[i]),
			Content:   c.Content,
		}
		sparseDocs[i] = SparseDoc{ID: c.ID, Content: c.Content, Metadata: meta}
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	if err := col.AddDocuments(ctx, docs, concurrency); err != nil {
		return fmt.Errorf("add dense documents: %w", err)
	}
	if err := r.sparse.Index(ctx, r.CollectionName(entity), sparseDocs); err != nil {
		return fmt.Errorf("add sparse documents: %w", err)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ DocumentIndex = (*IndexRegistry)(nil)
