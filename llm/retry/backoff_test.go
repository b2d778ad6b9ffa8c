package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	var attempts []int
	err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	testErr := errors.New("persistent error")
	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, callCount, "初始调用 + 2 次重试")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func(ctx context.Context, attempt int) error {
		callCount++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_Permanent(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	fatal := errors.New("bad request")
	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return Permanent(fatal)
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, callCount)
	assert.Nil(t, Permanent(nil))
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy(3)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
			callCount++
			return nonRetryableErr
		})
		assert.Equal(t, nonRetryableErr, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := (&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}).normalized()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // 达到最大延迟
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_NormalizedDoesNotMutate(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: -1, Multiplier: 0.5}
	n := policy.normalized()

	assert.Equal(t, 0, n.MaxRetries)
	assert.Equal(t, 2.0, n.Multiplier)
	assert.Equal(t, -1, policy.MaxRetries)
	assert.Equal(t, 0.5, policy.Multiplier)
}

func TestRetryPolicy_NormalizedUnsetMaxKeepsGrowth(t *testing.T) {
	policy := (&RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Minute,
		Multiplier:   2.0,
	}).normalized()

	assert.Equal(t, 4*time.Minute, policy.MaxDelay)
	assert.Equal(t, time.Minute, policy.Delay(1))
	assert.Equal(t, 2*time.Minute, policy.Delay(2))
	assert.Equal(t, 4*time.Minute, policy.Delay(3))

	small := (&RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}).normalized()
	assert.Equal(t, 30*time.Second, small.MaxDelay)
}

func TestValidateBackoff(t *testing.T) {
	tests := []struct {
		name       string
		initial    time.Duration
		maxDelay   time.Duration
		multiplier float64
		jitter     float64
		wantErr    string
	}{
		{name: "defaults", initial: time.Second, maxDelay: 30 * time.Second, multiplier: 2, jitter: 0.1},
		{name: "zero multiplier means 2", initial: time.Second, maxDelay: 2 * time.Second},
		{name: "unset max", initial: time.Minute, multiplier: 1.5},
		{name: "flat", initial: time.Second, multiplier: 1, wantErr: "backoff_multiplier"},
		{name: "below minimum", initial: time.Second, multiplier: 1.4, wantErr: "backoff_multiplier"},
		{name: "jitter erodes ratio", initial: time.Second, multiplier: 2, jitter: 0.4, wantErr: "jitter"},
		{name: "negative jitter", initial: time.Second, multiplier: 2, jitter: -1, wantErr: "jitter"},
		{name: "max caps first step", initial: time.Second, maxDelay: 1500 * time.Millisecond, multiplier: 2, wantErr: "max_retry_delay"},
		{name: "negative delay", initial: -time.Second, multiplier: 2, wantErr: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBackoff(tt.initial, tt.maxDelay, tt.multiplier, tt.jitter)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

// 只向上抖动时，相邻延迟之比不低于 Multiplier/(1+Jitter)
func TestRetryPolicy_JitterPreservesGrowth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		jitter := rapid.Float64Range(0, 0.3).Draw(t, "jitter")
		attempt := rapid.IntRange(1, 6).Draw(t, "attempt")

		policy := (&RetryPolicy{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     time.Hour,
			Multiplier:   2.0,
			Jitter:       jitter,
		}).normalized()

		prev := policy.Delay(attempt)
		next := policy.Delay(attempt + 1)
		ratio := float64(next) / float64(prev)
		if ratio < 2.0/(1+jitter)-1e-9 {
			t.Fatalf("ratio %.3f below bound for jitter %.3f", ratio, jitter)
		}
	})
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var calls []int
	var lastDelay time.Duration
	testErr := errors.New("test error")

	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		calls = append(calls, attempt)
		assert.Equal(t, testErr, err)
		lastDelay = delay
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return testErr
		}
		return nil
	})

	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, 20*time.Millisecond, lastDelay)
}

func TestDoValue(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	val, err := DoValue(context.Background(), r, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 2 {
			return "partial", errors.New("not yet")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", val)

	val, err = DoValue(context.Background(), NewBackoffRetryer(fastPolicy(0), nil), func(ctx context.Context, attempt int) (string, error) {
		return "ignored", errors.New("fail")
	})
	assert.Error(t, err)
	assert.Empty(t, val)
}
