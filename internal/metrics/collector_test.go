package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	c := newTestCollector(t)

	require.NotNil(t, c)
	assert.NotNil(t, c.jobsCreated)
	assert.NotNil(t, c.jobTransitions)
	assert.NotNil(t, c.itemsTotal)
	assert.NotNil(t, c.rateLimitWaits)
}

func TestCollector_JobLifecycle(t *testing.T) {
	c := newTestCollector(t)

	c.RecordJobCreated()
	c.RecordJobCreated()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsActive))

	c.RecordJobTransition("PENDING", "PROCESSING", false, 0)
	c.RecordJobTransition("PROCESSING", "COMPLETED", true, 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobTransitions.WithLabelValues("PENDING", "PROCESSING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobTransitions.WithLabelValues("PROCESSING", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsActive))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobDuration))
}

func TestCollector_PollAndCleanup(t *testing.T) {
	c := newTestCollector(t)

	c.RecordPoll("pending")
	c.RecordPoll("pending")
	c.RecordPoll("completed")
	c.RecordJobsCleaned(3)
	c.RecordJobsCleaned(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollRequests.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollRequests.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsCleaned))
}

func TestCollector_ExecutorMetrics(t *testing.T) {
	c := newTestCollector(t)

	c.RecordItem("success", 1, 10*time.Millisecond)
	c.RecordItem("failed", 4, time.Second)
	c.RecordRetry()
	c.RecordRetry()
	c.RecordRateLimitWait(500 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.itemsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.itemsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retriesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(c.rateLimitWaits))
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordJobCreated()
		c.RecordJobTransition("PENDING", "CANCELLED", true, time.Second)
		c.RecordPoll("error")
		c.RecordJobsCleaned(1)
		c.RecordItem("success", 1, time.Millisecond)
		c.RecordRetry()
		c.RecordRateLimitWait(time.Millisecond)
	})
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// 同一命名空间在不同 Registry 上注册不冲突
	assert.NotPanics(t, func() {
		_ = NewCollectorWithRegistry("dup", prometheus.NewRegistry(), nil)
		_ = NewCollectorWithRegistry("dup", prometheus.NewRegistry(), nil)
	})
}
