// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法允许在 nil 接收者上调用（不记录）。
type Collector struct {
	// 批处理任务指标
	jobsCreated    prometheus.Counter
	jobTransitions *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsCleaned    prometheus.Counter
	pollRequests   *prometheus.CounterVec
	jobsActive     prometheus.Gauge

	// 执行器指标
	itemsTotal     *prometheus.CounterVec
	itemAttempts   prometheus.Histogram
	itemDuration   *prometheus.HistogramVec
	retriesTotal   prometheus.Counter
	rateLimitWaits prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 在默认 Registry 上创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 在指定 Registerer 上创建指标收集器
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 批处理任务指标
	c.jobsCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_jobs_created_total",
		Help:      "Total number of batch jobs created",
	})

	c.jobTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_job_transitions_total",
			Help:      "Total number of batch job status transitions",
		},
		[]string{"from", "to"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_job_duration_seconds",
			Help:      "Time from job creation to terminal status",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		},
		[]string{"status"},
	)

	c.jobsCleaned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_jobs_cleaned_total",
		Help:      "Total number of terminal jobs removed from the registry",
	})

	c.pollRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_poll_requests_total",
			Help:      "Total number of remote status queries",
		},
		[]string{"outcome"},
	)

	c.jobsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_jobs_active",
		Help:      "Number of jobs in PENDING or PROCESSING status",
	})

	// 执行器指标
	c.itemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_items_total",
			Help:      "Total number of executor items by final outcome",
		},
		[]string{"outcome"},
	)

	c.itemAttempts = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "executor_item_attempts",
		Help:      "Number of attempts per executor item",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	})

	c.itemDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_item_duration_seconds",
			Help:      "Executor item duration including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	c.retriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_retries_total",
		Help:      "Total number of executor retries",
	})

	c.rateLimitWaits = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds",
		Help:      "Time spent waiting on the rate limiter",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 📦 批处理任务指标记录
// =============================================================================

// RecordJobCreated 记录任务创建
func (c *Collector) RecordJobCreated() {
	if c == nil {
		return
	}
	c.jobsCreated.Inc()
	c.jobsActive.Inc()
}

// RecordJobTransition 记录状态转换；进入终态时同时记录任务耗时
func (c *Collector) RecordJobTransition(from, to string, terminal bool, sinceCreated time.Duration) {
	if c == nil {
		return
	}
	c.jobTransitions.WithLabelValues(from, to).Inc()
	if terminal {
		c.jobsActive.Dec()
		c.jobDuration.WithLabelValues(to).Observe(sinceCreated.Seconds())
	}
}

// RecordPoll 记录一次远程状态查询，outcome: pending, completed, failed, error
func (c *Collector) RecordPoll(outcome string) {
	if c == nil {
		return
	}
	c.pollRequests.WithLabelValues(outcome).Inc()
}

// RecordJobsCleaned 记录清理的任务数
func (c *Collector) RecordJobsCleaned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsCleaned.Add(float64(n))
}

// =============================================================================
// ⚙️ 执行器指标记录
// =============================================================================

// RecordItem 记录单个条目的最终结果，outcome: success, failed
func (c *Collector) RecordItem(outcome string, attempts int, duration time.Duration) {
	if c == nil {
		return
	}
	c.itemsTotal.WithLabelValues(outcome).Inc()
	c.itemAttempts.Observe(float64(attempts))
	c.itemDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// RecordRateLimitWait 记录限流等待时长
func (c *Collector) RecordRateLimitWait(d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWaits.Observe(d.Seconds())
}
