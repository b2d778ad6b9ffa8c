package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义指数退避重试策略
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 第一次重试前的延迟
	MaxDelay     time.Duration // 单次延迟上限
	Multiplier   float64       // 延迟倍增因子
	// Jitter 为向上抖动比例，实际延迟落在 [d, d*(1+Jitter)] 区间。
	// 只向上抖动，保证相邻两次延迟之比不低于 Multiplier/(1+Jitter)。
	Jitter          float64
	RetryableErrors []error                                           // 可重试错误（为空则全部可重试）
	OnRetry         func(attempt int, err error, delay time.Duration) // 每次重试等待前回调
}

// DefaultRetryPolicy 返回默认重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// normalized 返回参数校正后的副本，不修改调用方持有的策略
func (p *RetryPolicy) normalized() *RetryPolicy {
	cp := *p
	if cp.MaxRetries < 0 {
		cp.MaxRetries = 0
	}
	if cp.InitialDelay <= 0 {
		cp.InitialDelay = time.Second
	}
	if cp.Multiplier < 1.0 {
		cp.Multiplier = 2.0
	}
	switch {
	case cp.MaxDelay <= 0:
		// 未设上限：默认 30s，但不低于最后一次重试的未截断延迟
		cp.MaxDelay = 30 * time.Second
		last := float64(cp.InitialDelay) * math.Pow(cp.Multiplier, float64(max(cp.MaxRetries-1, 0)))
		if last > float64(cp.MaxDelay) && last < float64(math.MaxInt64) {
			cp.MaxDelay = time.Duration(last)
		}
	case cp.MaxDelay < cp.InitialDelay:
		cp.MaxDelay = cp.InitialDelay
	}
	if cp.Jitter < 0 {
		cp.Jitter = 0
	}
	return &cp
}

// MinGrowthRatio 是相邻两次重试延迟之比允许的最小值
const MinGrowthRatio = 1.5

// ValidateBackoff 校验退避参数能让延迟至少按 MinGrowthRatio 增长。
// multiplier 为 0 时按默认值 2 计算；maxDelay 为 0 表示使用默认上限。
func ValidateBackoff(initialDelay, maxDelay time.Duration, multiplier, jitter float64) error {
	var errs []error
	if initialDelay < 0 || maxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if jitter < 0 {
		errs = append(errs, fmt.Errorf("jitter must not be negative, got %g", jitter))
	}
	if multiplier == 0 {
		multiplier = 2.0
	}
	if multiplier < MinGrowthRatio {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be >= %g, got %g", MinGrowthRatio, multiplier))
	} else if jitter > 0 && multiplier/(1+jitter) < MinGrowthRatio {
		errs = append(errs, fmt.Errorf("jitter %g lets the delay ratio fall to %.3f, below %g",
			jitter, multiplier/(1+jitter), MinGrowthRatio))
	}
	if maxDelay > 0 && float64(maxDelay) < float64(initialDelay)*multiplier {
		errs = append(errs, fmt.Errorf("max_retry_delay %s must be >= retry_delay * backoff_multiplier (%s)",
			maxDelay, time.Duration(float64(initialDelay)*multiplier)))
	}
	return errors.Join(errs...)
}

// Delay 返回第 attempt 次重试（从 1 开始）前的等待时间：
// InitialDelay * Multiplier^(attempt-1)，受 MaxDelay 限制，再叠加向上抖动
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行 fn，失败时按策略重试；attempt 从 1 开始计数
	Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{
		policy: policy.normalized(),
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := r.policy.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Delay(attempt - 1)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt-1, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &ExhaustedError{Attempts: attempt - 1, Err: lastErr, Cause: ctx.Err()}
			case <-timer.C:
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if !r.isRetryable(lastErr) {
			r.logger.Debug("error is not retryable", zap.Error(lastErr))
			return lastErr
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}
	for _, target := range r.policy.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ExhaustedError 表示重试次数耗尽或等待期间被取消。
// Err 为最后一次尝试的错误，Cause 非空时为中断原因。
type ExhaustedError struct {
	Attempts int
	Err      error
	Cause    error
}

func (e *ExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retry aborted after %d attempts: %v (last error: %v)", e.Attempts, e.Cause, e.Err)
	}
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// PermanentError 标记不应再重试的错误
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent 包装 err，使重试器立即停止并原样返回 err
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
