package rag

import "github.com/BaSui01/finrag/types"

// ResolveEntities 确定检索范围内的实体.
// 调用方过滤始终生效, 显式覆盖实体追加其后; 两者都为空时才使用分析器检测到的实体.
// 结果已归一化, 去重并保持原始顺序.
func ResolveEntities(q types.Query, detected []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(list ...string) {
		for _, e := range list {
			n := types.NormalizeEntity(e)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	add(q.EntityFilter...)
	add(q.OverrideEntity)
	if q.ComparisonMode {
		add(q.ComparisonEntities...)
	}
	if len(out) == 0 {
		add(detected...)
	}
	return out
}
