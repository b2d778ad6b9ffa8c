package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/llm/retry"
)

// ExecutorConfig 进程内批量执行器配置
type ExecutorConfig struct {
	MaxConcurrent     int           `json:"max_concurrent"`
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            float64       `json:"jitter"`
}

// DefaultExecutorConfig 返回默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:     5,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		MaxRetryDelay:     30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Validate 校验执行器配置
func (c ExecutorConfig) Validate() error {
	var errs []error
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if err := retry.ValidateBackoff(c.RetryDelay, c.MaxRetryDelay, c.BackoffMultiplier, c.Jitter); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RateLimiter 每次尝试前调用 Acquire，只在 ctx 结束时返回错误
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// Operation 对单个输入执行一次尝试
type Operation[TIn, TOut any] func(ctx context.Context, item TIn) (TOut, error)

type executorOptions struct {
	limiter  RateLimiter
	progress func(completed, total int)
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// ExecutorOption 配置 SmartBatchProcessor
type ExecutorOption func(*executorOptions)

// WithRateLimiter 设置共享限流器
func WithRateLimiter(l RateLimiter) ExecutorOption {
	return func(o *executorOptions) { o.limiter = l }
}

// WithProgress 每个条目结束时回调一次，completed 单调递增直到 total
func WithProgress(fn func(completed, total int)) ExecutorOption {
	return func(o *executorOptions) { o.progress = fn }
}

// WithExecutorMetrics 设置指标收集器
func WithExecutorMetrics(c *metrics.Collector) ExecutorOption {
	return func(o *executorOptions) { o.metrics = c }
}

// WithExecutorTracer 设置 tracer
func WithExecutorTracer(t trace.Tracer) ExecutorOption {
	return func(o *executorOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// SmartBatchProcessor 以有界并发、限流和指数退避重试执行一批独立操作。
// 单个条目失败不影响其他条目。
type SmartBatchProcessor[TIn, TOut any] struct {
	cfg     ExecutorConfig
	opts    executorOptions
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewSmartBatchProcessor 创建执行器
func NewSmartBatchProcessor[TIn, TOut any](cfg ExecutorConfig, logger *zap.Logger, opts ...ExecutorOption) (*SmartBatchProcessor[TIn, TOut], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := executorOptions{tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(&o)
	}

	policy := &retry.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   cfg.BackoffMultiplier,
		Jitter:       cfg.Jitter,
		OnRetry: func(int, error, time.Duration) {
			o.metrics.RecordRetry()
		},
	}
	logger = logger.With(zap.String("component", "smart_batch_processor"))

	return &SmartBatchProcessor[TIn, TOut]{
		cfg:     cfg,
		opts:    o,
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger,
	}, nil
}

type itemOutcome[TOut any] struct {
	value TOut
	err   error
}

// ProcessBatch 执行全部条目并等待结束。
//
// Successful 按输入顺序排列，Total 恒等于 len(items)。ctx 取消后，
// 尚未完成的条目以 ctx 错误记入 Failed。
func (p *SmartBatchProcessor[TIn, TOut]) ProcessBatch(ctx context.Context, items []TIn, op Operation[TIn, TOut]) *BatchExecutionResult[TIn, TOut] {
	start := time.Now()
	total := len(items)

	ctx, span := p.opts.tracer.Start(ctx, "batch.process", trace.WithAttributes(
		attribute.Int("batch.items", total),
		attribute.Int("batch.max_concurrent", p.cfg.MaxConcurrent),
	))
	defer span.End()

	outcomes := make([]itemOutcome[TOut], total)

	var (
		mu        sync.Mutex
		completed int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if p.opts.progress != nil {
			p.opts.progress(completed, total)
		}
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrent)
	for i := range items {
		g.Go(func() error {
			v, err := p.runItem(ctx, i, items[i], op)
			outcomes[i] = itemOutcome[TOut]{value: v, err: err}
			report()
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchExecutionResult[TIn, TOut]{
		Successful: make([]TOut, 0, total),
		Total:      total,
	}
	for i, oc := range outcomes {
		if oc.err != nil {
			result.Failed = append(result.Failed, FailedItem[TIn]{Item: items[i], Err: oc.err})
			continue
		}
		result.Successful = append(result.Successful, oc.value)
	}
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("batch.successful", len(result.Successful)),
		attribute.Int("batch.failed", len(result.Failed)),
	)
	p.logger.Info("batch processed",
		zap.Int("total", total),
		zap.Int("successful", len(result.Successful)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// runItem 执行单个条目：每次尝试先经过限流器，失败按退避重试
func (p *SmartBatchProcessor[TIn, TOut]) runItem(ctx context.Context, index int, item TIn, op Operation[TIn, TOut]) (TOut, error) {
	start := time.Now()
	var (
		attempts int
		lastErr  error
	)

	v, err := retry.DoValue(ctx, p.retryer, func(ctx context.Context, attempt int) (TOut, error) {
		attempts = attempt
		var zero TOut
		if err := ctx.Err(); err != nil {
			lastErr = err
			return zero, retry.Permanent(err)
		}
		if p.opts.limiter != nil {
			waitStart := time.Now()
			if err := p.opts.limiter.Acquire(ctx); err != nil {
				lastErr = err
				return zero, retry.Permanent(err)
			}
			p.opts.metrics.RecordRateLimitWait(time.Since(waitStart))
		}
		out, err := safeCall(ctx, op, item)
		if err != nil {
			lastErr = err
		}
		return out, err
	})

	if err == nil {
		p.opts.metrics.RecordItem("success", attempts, time.Since(start))
		return v, nil
	}

	failErr := lastErr
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		failErr = ctxErr
	}
	if failErr == nil {
		failErr = err
	}
	p.opts.metrics.RecordItem("failed", attempts, time.Since(start))
	p.logger.Warn("batch item failed permanently",
		zap.Int("index", index),
		zap.Int("attempts", attempts),
		zap.Error(failErr),
	)
	return v, failErr
}

// safeCall 将 op 中的 panic 转为错误
func safeCall[TIn, TOut any](ctx context.Context, op Operation[TIn, TOut], item TIn) (out TOut, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in batch operation: %v", r)
		}
	}()
	return op(ctx, item)
}
