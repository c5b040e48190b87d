package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// IngestRequest 一份待写入索引的文档, 文本已由上游抽取.
type IngestRequest struct {
	Entity      string `json:"entity"`
	DocumentRef string `json:"document_ref"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"content_type,omitempty"` // e.g. 10-K, 10-Q, transcript
	Text        string `json:"text"`
}

// IngestResult 写入结果
type IngestResult struct {
	Collection string        `json:"collection"`
	Chunks     int           `json:"chunks"`
	Duration   time.Duration `json:"duration"`
}

// Ingestor 将文档切块后写入实体的稠密与稀疏索引.
type Ingestor struct {
	registry    *IndexRegistry
	chunker     *Chunker
	concurrency int
	logger      *zap.Logger
}

// NewIngestor creates an ingestor writing into registry.
func NewIngestor(registry *IndexRegistry, chunker *Chunker, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultChunkingConfig())
	}
	return &Ingestor{
		registry:    registry,
		chunker:     chunker,
		concurrency: 4,
		logger:      logger.With(zap.String("component", "ingestor")),
	}
}

// Ingest chunks and indexes one document. Re-ingesting the same document
// reference replaces its chunks because chunk ids are deterministic.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	start := time.Now()
	entity := types.NormalizeEntity(req.Entity)
	if entity == "" {
		return IngestResult{}, types.NewError(types.ErrInvalidRequest, "entity is required")
	}
	if strings.TrimSpace(req.DocumentRef) == "" {
		return IngestResult{}, types.NewError(types.ErrInvalidRequest, "document_ref is required")
	}

	pieces := i.chunker.Split(req.Text)
	if len(pieces) == 0 {
		return IngestResult{}, types.NewError(types.ErrInvalidRequest, "document has no text")
	}

	chunks := make([]IndexedChunk, len(pieces))
	for n, p := range pieces {
		chunks[n] = IndexedChunk{
			ID:          fmt.Sprintf("%s:%s:%d", entity, req.DocumentRef, p.Position),
			Entity:      entity,
			DocumentRef: req.DocumentRef,
			Position:    p.Position,
			Title:       req.Title,
			ContentType: req.ContentType,
			Content:     p.Content,
		}
	}

	if err := i.registry.AddChunks(ctx, entity, chunks, i.concurrency); err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s/%s: %w", entity, req.DocumentRef, err)
	}

	res := IngestResult{
		Collection: i.registry.CollectionName(entity),
		Chunks:     len(chunks),
		Duration:   time.Since(start),
	}
	i.logger.Info("document ingested",
		zap.String("entity", entity),
		zap.String("document_ref", req.DocumentRef),
		zap.Int("chunks", res.Chunks),
		zap.Duration("duration", res.Duration))
	return res, nil
}
