package rag

import (
	"context"
	"fmt"
	"math"

	"github.com/BaSui01/finrag/llm/embedding"
	chromem "github.com/philippgille/chromem-go"
)

// Float64ToFloat32 converts a []float64 vector to []float32.
// chromem stores float32 embeddings.
func Float64ToFloat32(v []float64) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ChromemEmbeddingFunc adapts an embedding provider to chromem's single-text signature.
func ChromemEmbeddingFunc(p embedding.Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed with %s: %w", p.Name(), err)
		}
		return Float64ToFloat32(vec), nil
	}
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 when lengths differ or either vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
