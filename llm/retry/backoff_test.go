package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), nil)

	callCount := 0
	root := errors.New("persistent")
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return root
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, 3, callCount, "初次调用 + 2 次重试")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable")
	policy := fastPolicy(3)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return errors.New("not in list")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "不可重试错误不应重试")
}

func TestTimeoutRetryPolicy_OnlyRetriesTimeouts(t *testing.T) {
	retryer := NewBackoffRetryer(TimeoutRetryPolicy(time.Millisecond), zap.NewNop())

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return types.NewTimeoutError("llm", context.DeadlineExceeded)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "timeouts retry exactly once")
	assert.True(t, types.IsErrorCode(err, types.ErrExternalServiceTimeout))

	calls = 0
	err = retryer.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrUpstreamError, "bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors are returned immediately")
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, zap.NewNop()).(*backoffRetryer)

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(10), "受 MaxDelay 限制")
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	calls := 0
	val, err := DoTyped(context.Background(), retryer, func() ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("once")
		}
		return []string{"ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, val)

	_, err = DoTyped(context.Background(), NewBackoffRetryer(fastPolicy(0), nil), func() (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
}
