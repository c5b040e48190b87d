package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 默认的并发上限
const DefaultConcurrency = 5

// FanOut 以有界并发对 items 逐一执行 fn, 结果按输入下标返回.
// 单个失败不会取消其余调用; errs[i] 对应 items[i].
func FanOut[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// FirstError returns the first non-nil error, or nil.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CountErrors returns how many entries are non-nil.
func CountErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
