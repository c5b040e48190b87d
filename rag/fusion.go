package rag

import "sort"

// DefaultRRFK is the reciprocal rank fusion constant.
const DefaultRRFK = 60

// RankedList 一路检索结果, 按相关度降序排列的文档 ID.
type RankedList []string

// FusedResult RRF 融合后的结果
type FusedResult struct {
	ID         string
	Score      float64
	DenseRank  int // 1-based, 0 表示未出现
	SparseRank int
}

// ReciprocalRankFusion 合并稠密与稀疏两路排名: RRF(d) = Σ 1/(k + rank(d)).
// 同分时按 ID 排序, 保证结果确定.
func ReciprocalRankFusion(dense, sparse RankedList, k int) []FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := make(map[string]*FusedResult, len(dense)+len(sparse))
	get := func(id string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ID: id}
			byID[id] = r
		}
		return r
	}

	for rank, id := range dense {
		r := get(id)
		if r.DenseRank != 0 {
			continue
		}
		r.DenseRank = rank + 1
		r.Score += 1.0 / float64(k+rank+1)
	}
	for rank, id := range sparse {
		r := get(id)
		if r.SparseRank != 0 {
			continue
		}
		r.SparseRank = rank + 1
		r.Score += 1.0 / float64(k+rank+1)
	}

	out := make([]FusedResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
