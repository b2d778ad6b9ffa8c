// Package ratelimit 提供面向并发调用方的调用间隔限制器。
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AsyncRateLimiter 保证所有调用方的 Acquire 按到达顺序放行，
// 相邻两次放行间隔不小于 60s / requestsPerMinute。
//
// 只延迟、不拒绝；等待期间只挂起调用方 goroutine。
// 底层 rate.Limiter 的 burst 固定为 1，状态只有上次放行时刻，内存占用恒定。
type AsyncRateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	rpm      int

	acquired atomic.Int64
	waited   atomic.Int64 // nanoseconds
}

// NewAsyncRateLimiter 创建限流器，requestsPerMinute 必须为正数
func NewAsyncRateLimiter(requestsPerMinute int) *AsyncRateLimiter {
	if requestsPerMinute <= 0 {
		panic(fmt.Sprintf("ratelimit: requests per minute must be positive, got %d", requestsPerMinute))
	}
	interval := time.Minute / time.Duration(requestsPerMinute)
	return &AsyncRateLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		rpm:      requestsPerMinute,
	}
}

// Acquire 挂起直到轮到调用方。只有 ctx 被取消（或其截止时间早于可放行时刻）时返回错误，
// 此时不占用名额。
func (l *AsyncRateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	l.acquired.Add(1)
	l.waited.Add(int64(time.Since(start)))
	return nil
}

// Interval 返回相邻放行之间的最小间隔
func (l *AsyncRateLimiter) Interval() time.Duration { return l.interval }

// RequestsPerMinute 返回配置的速率
func (l *AsyncRateLimiter) RequestsPerMinute() int { return l.rpm }

// Stats 限流统计
type Stats struct {
	Acquired  int64         `json:"acquired"`
	TotalWait time.Duration `json:"total_wait"`
}

// Stats 返回累计放行次数与累计等待时长
func (l *AsyncRateLimiter) Stats() Stats {
	return Stats{
		Acquired:  l.acquired.Load(),
		TotalWait: time.Duration(l.waited.Load()),
	}
}
