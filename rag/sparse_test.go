package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSparseDocs() []SparseDoc {
	return []SparseDoc{
		{ID: "d1", Content: "Apple total revenue net sales were 383 billion dollars"},
		{ID: "d2", Content: "Apple research and development expense increased"},
		{ID: "d3", Content: "The board approved a dividend"},
	}
}

func TestBM25Index_SearchRanksMatchingDocs(t *testing.T) {
	ctx := context.Background()
	idx := NewBM25Index("", nil)
	require.NoError(t, idx.Index(ctx, "entity_aapl", sampleSparseDocs()))

	hits, err := idx.Search(ctx, "entity_aapl", "revenue net sales", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBM25Index_TopKAndZeroScores(t *testing.T) {
	ctx := context.Background()
	idx := NewBM25Index("", nil)
	require.NoError(t, idx.Index(ctx, "c", sampleSparseDocs()))

	hits, err := idx.Search(ctx, "c", "apple", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = idx.Search(ctx, "c", "unrelated words", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBM25Index_UnknownCollection(t *testing.T) {
	hits, err := NewBM25Index("", nil).Search(context.Background(), "missing", "revenue", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestBM25Index_ReplacesByID(t *testing.T) {
	ctx := context.Background()
	idx := NewBM25Index("", nil)
	require.NoError(t, idx.Index(ctx, "c", sampleSparseDocs()))
	require.NoError(t, idx.Index(ctx, "c", []SparseDoc{{ID: "d3", Content: "dividend revenue update"}}))

	hits, err := idx.Search(ctx, "c", "dividend", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dividend revenue update", hits[0].Content)
}

func TestBM25Index_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, NewBM25Index(dir, nil).Index(ctx, "c", sampleSparseDocs()))

	reopened := NewBM25Index(dir, nil)
	hits, err := reopened.Search(ctx, "c", "dividend", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d3", hits[0].ID)
}
