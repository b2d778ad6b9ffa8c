package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/llm/batch"
)

var (
	ErrNotFound = errors.New("archived job not found")
	ErrClosed   = errors.New("job archive is closed")
)

// =============================================================================
// 💾 Redis 归档
// =============================================================================

// Config 归档配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 快照保留时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	PoolSize   int `yaml:"pool_size" json:"pool_size"`
}

// DefaultConfig 返回默认归档配置
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		TTL:        7 * 24 * time.Hour,
		KeyPrefix:  "batchflow:job:",
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// RedisArchive 将终态任务快照写入 Redis
type RedisArchive struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ batch.JobArchive = (*RedisArchive)(nil)

// NewRedisArchive 连接 Redis 并创建归档
func NewRedisArchive(config Config, logger *zap.Logger) (*RedisArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	a := &RedisArchive{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "job_archive")),
	}

	a.logger.Info("job archive initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL),
	)
	return a, nil
}

func (a *RedisArchive) jobKey(jobID string) string {
	return a.config.KeyPrefix + jobID
}

func (a *RedisArchive) indexKey() string {
	return a.config.KeyPrefix + "index"
}

// Archive 保存任务快照并加入索引
func (a *RedisArchive) Archive(ctx context.Context, job *batch.BatchJob) error {
	if job == nil {
		return batch.ErrNilJob
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.JobID, err)
	}

	_, err = a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, a.jobKey(job.JobID), data, a.config.TTL)
		pipe.ZAdd(ctx, a.indexKey(), redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.JobID,
		})
		return nil
	})
	if err != nil {
		a.logger.Error("archive job failed", zap.String("job_id", job.JobID), zap.Error(err))
		return fmt.Errorf("archive job %s: %w", job.JobID, err)
	}

	a.logger.Debug("job archived",
		zap.String("job_id", job.JobID),
		zap.String("status", string(job.Status)),
	)
	return nil
}

// Load 读取归档的任务快照
func (a *RedisArchive) Load(ctx context.Context, jobID string) (*batch.BatchJob, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	return a.load(ctx, jobID)
}

func (a *RedisArchive) load(ctx context.Context, jobID string) (*batch.BatchJob, error) {
	val, err := a.redis.Get(ctx, a.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	var job batch.BatchJob
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// List 按创建时间倒序返回最多 limit 个快照（limit <= 0 表示全部），
// 顺带清除索引中已过期的条目
func (a *RedisArchive) List(ctx context.Context, limit int) ([]*batch.BatchJob, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}

	ids, err := a.redis.ZRevRange(ctx, a.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}

	var (
		jobs  []*batch.BatchJob
		stale []any
	)
	for _, id := range ids {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		job, err := a.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if len(stale) > 0 {
		if err := a.redis.ZRem(ctx, a.indexKey(), stale...).Err(); err != nil {
			a.logger.Warn("prune archive index failed", zap.Error(err))
		}
	}
	return jobs, nil
}

// Delete 删除归档
func (a *RedisArchive) Delete(ctx context.Context, jobID string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, a.jobKey(jobID))
		pipe.ZRem(ctx, a.indexKey(), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete archived job %s: %w", jobID, err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (a *RedisArchive) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return a.redis.Ping(ctx).Err()
}

// Close 关闭归档
func (a *RedisArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.logger.Info("closing job archive")
	return a.redis.Close()
}
