package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		Name:              "test-retry",
		MaxAttempts:       3,
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      false,
	}
}

func TestRetryPolicy_SuccessOnFirstAttempt(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	attempts := 0
	result, err := policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_SuccessAfterRetries(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	attempts := 0
	result, err := policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)

	stats := policy.Stats()
	assert.Equal(t, uint64(1), stats.TotalExecutions)
	assert.Equal(t, uint64(1), stats.SuccessfulExecutions)
	assert.Equal(t, uint64(3), stats.TotalAttempts)
}

func TestRetryPolicy_ExhaustionCarriesAttemptHistory(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	_, err := policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("permanent")
	})

	require.Error(t, err)
	require.True(t, IsRetryExhaustedError(err))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 3)
	for i, record := range exhausted.Attempts {
		assert.Equal(t, i+1, record.Attempt)
		assert.False(t, record.Success)
		assert.EqualError(t, record.Err, "permanent")
	}
	assert.EqualError(t, exhausted.Cause, "permanent")
}

func TestRetryPolicy_PredicateVetoStopsEarly(t *testing.T) {
	config := testRetryConfig()
	config.RetryCondition = func(err error) bool {
		return err.Error() == "transient"
	}
	policy := NewRetryPolicy(config)

	attempts := 0
	_, err := policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return nil, errors.New("fatal")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)

	// Prior attempts are included even when the predicate stops retrying
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
	assert.EqualError(t, exhausted.Cause, "fatal")
}

func TestRetryPolicy_BackoffTiming(t *testing.T) {
	config := testRetryConfig()
	config.BaseDelay = 20 * time.Millisecond
	policy := NewRetryPolicy(config)

	var starts []time.Time
	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		starts = append(starts, time.Now())
		return nil, errors.New("fail")
	})

	require.Len(t, starts, 3)

	// Gaps follow baseDelay * multiplier^(attempt-1): 20ms then 40ms
	gap1 := starts[1].Sub(starts[0])
	gap2 := starts[2].Sub(starts[1])
	assert.GreaterOrEqual(t, gap1, 20*time.Millisecond)
	assert.Less(t, gap1, 60*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 40*time.Millisecond)
	assert.Less(t, gap2, 100*time.Millisecond)
}

func TestRetryPolicy_MaxDelayCapsBackoff(t *testing.T) {
	config := testRetryConfig()
	config.MaxAttempts = 4
	config.BaseDelay = 10 * time.Millisecond
	config.MaxDelay = 15 * time.Millisecond
	policy := NewRetryPolicy(config)

	started := time.Now()
	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})

	// Uncapped delays would be 10+20+40ms; capped they are 10+15+15ms
	assert.Less(t, time.Since(started), 70*time.Millisecond)
}

func TestRetryPolicy_ExecuteWithResultSuccess(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	attempts := 0
	result := policy.ExecuteWithResult(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient")
		}
		return "payload", nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, "payload", result.Data)
	assert.NoError(t, result.Err)
	assert.Len(t, result.Attempts, 2)
	assert.False(t, result.Attempts[0].Success)
	assert.True(t, result.Attempts[1].Success)
	assert.Greater(t, result.TotalDuration, time.Duration(0))
}

func TestRetryPolicy_ExecuteWithResultNeverRaises(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	result := policy.ExecuteWithResult(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("permanent")
	})

	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	require.Error(t, result.Err)
	assert.True(t, IsRetryExhaustedError(result.Err))
	assert.Len(t, result.Attempts, 3)
}

func TestRetryPolicy_AttemptTimeout(t *testing.T) {
	config := testRetryConfig()
	config.MaxAttempts = 2
	config.AttemptTimeout = 30 * time.Millisecond
	policy := NewRetryPolicy(config)

	result := policy.ExecuteWithResult(context.Background(), func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	assert.False(t, result.Success)
	require.Len(t, result.Attempts, 2)
	for _, record := range result.Attempts {
		assert.True(t, IsAttemptTimeoutError(record.Err))
	}

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, result.Err, &exhausted)
	assert.True(t, IsAttemptTimeoutError(exhausted.Cause))
}

func TestRetryPolicy_ContextCancellationStopsRetrying(t *testing.T) {
	config := testRetryConfig()
	config.MaxAttempts = 5
	config.BaseDelay = 100 * time.Millisecond
	policy := NewRetryPolicy(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := policy.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_StatsAccumulate(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	// One success on the second attempt, one exhaustion
	attempts := 0
	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("permanent")
	})

	stats := policy.Stats()
	assert.Equal(t, uint64(2), stats.TotalExecutions)
	assert.Equal(t, uint64(1), stats.SuccessfulExecutions)
	assert.Equal(t, uint64(1), stats.FailedExecutions)
	assert.Equal(t, uint64(5), stats.TotalAttempts)
	assert.InDelta(t, 2.5, stats.AverageAttempts, 0.001)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
}

func TestRetryPolicy_ResetStats(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.Equal(t, uint64(1), policy.Stats().TotalExecutions)

	policy.ResetStats()
	assert.Equal(t, RetryStats{}, policy.Stats())
}

func TestRetryPolicy_OnRetryCallback(t *testing.T) {
	var delays []time.Duration
	config := testRetryConfig()
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	policy := NewRetryPolicy(config)

	policy.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})

	require.Len(t, delays, 2)
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 20*time.Millisecond, delays[1])
}
