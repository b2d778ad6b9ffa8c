package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultBatchConfig(), cfg.Batch)
	assert.Equal(t, DefaultExecutorConfig(), cfg.Executor)
	assert.Equal(t, DefaultRateLimitConfig(), cfg.RateLimit)
	assert.Equal(t, DefaultGeminiConfig(), cfg.Gemini)
	assert.Equal(t, DefaultRedisConfig(), cfg.Redis)
	assert.Equal(t, DefaultMetricsConfig(), cfg.Metrics)
	assert.Equal(t, DefaultLogConfig(), cfg.Log)
	assert.Equal(t, DefaultTelemetryConfig(), cfg.Telemetry)
}

func TestDefaultBatchConfig(t *testing.T) {
	cfg := DefaultBatchConfig()
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 2048, cfg.MaxOutputTokens)
	assert.Equal(t, "local", cfg.Client)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestDefaultExecutorConfig(t *testing.T) {
	cfg := DefaultExecutorConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Less(t, cfg.Jitter, 0.25)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "batchflow:job:", cfg.KeyPrefix)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "batchflow", cfg.ServiceName)
}
