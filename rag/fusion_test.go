package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReciprocalRankFusion_CombinesLists(t *testing.T) {
	fused := ReciprocalRankFusion(RankedList{"a", "b", "c"}, RankedList{"b", "d"}, 60)
	require.Len(t, fused, 4)

	assert.Equal(t, "b", fused[0].ID, "present in both lists")
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].Score, 1e-12)
	assert.Equal(t, 2, fused[0].DenseRank)
	assert.Equal(t, 1, fused[0].SparseRank)
	assert.Equal(t, "a", fused[1].ID)
}

func TestReciprocalRankFusion_TiesBreakByID(t *testing.T) {
	fused := ReciprocalRankFusion(RankedList{"z"}, RankedList{"y"}, 0)
	require.Len(t, fused, 2)
	assert.Equal(t, "y", fused[0].ID)
	assert.Equal(t, "z", fused[1].ID)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)
}

func TestReciprocalRankFusion_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfDistinct(rapid.StringMatching(`[a-f]{1,3}`), rapid.ID[string]).Draw(t, "ids")
		split := rapid.IntRange(0, len(ids)).Draw(t, "split")
		dense, sparse := RankedList(ids[:split]), RankedList(ids[split:])

		fused := ReciprocalRankFusion(dense, sparse, DefaultRRFK)
		if len(fused) != len(ids) {
			t.Fatalf("expected %d results, got %d", len(ids), len(fused))
		}
		for i := 1; i < len(fused); i++ {
			if fused[i].Score > fused[i-1].Score {
				t.Fatalf("scores not descending at %d", i)
			}
		}
	})
}
