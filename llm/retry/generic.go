package retry

import "context"

// DoValue 是 Retryer.Do 的泛型封装，返回最后一次成功尝试的结果。
//
// Usage:
//
//	val, err := retry.DoValue(ctx, r, func(ctx context.Context, attempt int) (int, error) {
//	    return 42, nil
//	})
func DoValue[T any](ctx context.Context, r Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
