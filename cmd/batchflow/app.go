package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/archive"
	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/internal/server"
	"github.com/BaSui01/batchflow/internal/telemetry"
	"github.com/BaSui01/batchflow/llm/batch"
	"github.com/BaSui01/batchflow/llm/ratelimit"
)

const tracerName = "github.com/BaSui01/batchflow/cmd/batchflow"

// backend 同时支持远程批任务与单条同步调用
type backend interface {
	batch.RemoteClient
	batch.ContentGenerator
}

// app 持有一次命令执行期间的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	providers  *telemetry.Providers
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	metricsSrv *server.Manager
	archive    *archive.RedisArchive
	client     backend
}

// newApp 按配置装配组件。可选组件（遥测、归档）初始化失败只记录警告。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	a.providers = providers

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewCollectorWithRegistry(cfg.Metrics.Namespace, a.registry, logger)

		if cfg.Metrics.Addr != "" {
			srvCfg := server.DefaultConfig()
			srvCfg.Addr = cfg.Metrics.Addr
			a.metricsSrv = server.NewManager(server.MetricsHandler(a.registry), srvCfg, logger)
			if err := a.metricsSrv.Start(); err != nil {
				_ = a.close(ctx)
				return nil, fmt.Errorf("start metrics endpoint: %w", err)
			}
		}
	}

	if cfg.Redis.Enabled {
		arc, err := archive.NewRedisArchive(archive.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.ArchiveTTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			logger.Warn("Redis not available, job archive disabled", zap.Error(err))
		} else {
			a.archive = arc
		}
	}

	a.client = newBackend(cfg, logger)
	return a, nil
}

func newBackend(cfg *config.Config, logger *zap.Logger) backend {
	if cfg.Batch.Client == "gemini" {
		return batch.NewGeminiClient(batch.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Timeout: cfg.Gemini.Timeout,
		}, logger)
	}
	return batch.NewLocalClient(batch.WithLocalLogger(logger))
}

// processor 创建远程批任务处理器
func (a *app) processor() *batch.BatchProcessor {
	opts := []batch.ProcessorOption{
		batch.WithMetrics(a.metrics),
		batch.WithTracer(a.providers.Tracer(tracerName)),
	}
	if a.archive != nil {
		opts = append(opts, batch.WithArchive(a.archive))
	}
	return batch.NewBatchProcessor(batch.BatchConfig{
		ModelName:       a.cfg.Batch.ModelName,
		Temperature:     batch.Float64Ptr(a.cfg.Batch.Temperature),
		MaxOutputTokens: a.cfg.Batch.MaxOutputTokens,
		OutputDir:       a.cfg.Batch.OutputDir,
	}, a.client, a.logger, opts...)
}

// executor 创建进程内执行器
func (a *app) executor(progress func(completed, total int)) (*batch.SmartBatchProcessor[batch.BatchRequest, batch.BatchResult], error) {
	opts := []batch.ExecutorOption{
		batch.WithExecutorMetrics(a.metrics),
		batch.WithExecutorTracer(a.providers.Tracer(tracerName)),
	}
	if a.cfg.RateLimit.Enabled {
		opts = append(opts, batch.WithRateLimiter(ratelimit.NewAsyncRateLimiter(a.cfg.RateLimit.RequestsPerMinute)))
	}
	if progress != nil {
		opts = append(opts, batch.WithProgress(progress))
	}

	ec := a.cfg.Executor
	return batch.NewSmartBatchProcessor[batch.BatchRequest, batch.BatchResult](batch.ExecutorConfig{
		MaxConcurrent:     ec.MaxConcurrent,
		MaxRetries:        ec.MaxRetries,
		RetryDelay:        ec.RetryDelay,
		MaxRetryDelay:     ec.MaxRetryDelay,
		BackoffMultiplier: ec.BackoffMultiplier,
		Jitter:            ec.Jitter,
	}, a.logger, opts...)
}

// close 依次关闭指标端点、归档连接与遥测 provider
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.metricsSrv != nil {
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	errs = append(errs, a.providers.Shutdown(ctx))
	return errors.Join(errs...)
}
