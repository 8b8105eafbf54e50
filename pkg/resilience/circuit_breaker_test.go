package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
		WindowSize:       10,
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.IsCallable())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "success", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, StateClosed, cb.State())
	}
}

func TestCircuitBreaker_TripsAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	// Two failures are below the threshold
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("db down")
		})
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	// The third failure trips the breaker
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsCallable())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	tripBreaker(t, cb)

	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not execute", nil
	})

	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))
	assert.False(t, invoked)

	stats := cb.Stats()
	assert.Equal(t, uint64(1), stats.RejectedCalls)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	tripBreaker(t, cb)

	// Wait out the recovery timeout; the next call is admitted as a probe
	time.Sleep(150 * time.Millisecond)
	assert.True(t, cb.IsCallable())

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "probe", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// The second consecutive success closes the circuit
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "probe", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	tripBreaker(t, cb)
	time.Sleep(150 * time.Millisecond)

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsCallable())
}

func TestCircuitBreaker_ReopenResetsRecoveryClock(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	tripBreaker(t, cb)
	time.Sleep(150 * time.Millisecond)

	// Failed probe reopens with a fresh openedAt
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("still down")
	})

	// Immediately after reopening the breaker must reject again
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "too soon", nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))
}

func TestCircuitBreaker_ErrorFilterDoesNotCount(t *testing.T) {
	config := testBreakerConfig()
	config.ErrorFilter = func(err error) bool {
		return err.Error() != "ignorable"
	}
	cb := NewCircuitBreaker(config)

	// Filtered errors are returned to the caller but never trip the breaker
	for i := 0; i < 10; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("ignorable")
		})
		require.Error(t, err)
		assert.Equal(t, "ignorable", err.Error())
	}
	assert.Equal(t, StateClosed, cb.State())

	// Counted errors still trip it
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("real failure")
		})
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsWindowOnClose(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	tripBreaker(t, cb)
	time.Sleep(150 * time.Millisecond)

	// Close through half-open
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, StateClosed, cb.State())

	// The window was cleared, so it takes a full threshold of new failures
	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("fail")
		})
		assert.Equal(t, StateClosed, cb.State())
	}
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	stats := cb.Stats()
	assert.Equal(t, uint64(4), stats.TotalCalls)
	assert.Equal(t, uint64(3), stats.SuccessfulCalls)
	assert.Equal(t, uint64(1), stats.FailedCalls)
	assert.Equal(t, uint64(0), stats.RejectedCalls)
	assert.InDelta(t, 75.0, stats.Uptime, 0.001)
}

func TestCircuitBreaker_StatsIdempotent(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	first := cb.Stats()
	second := cb.Stats()
	assert.Equal(t, first, second)
}

func TestCircuitBreaker_UptimeZeroWithoutCalls(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	stats := cb.Stats()
	assert.Equal(t, uint64(0), stats.TotalCalls)
	assert.Equal(t, 0.0, stats.Uptime)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	config := testBreakerConfig()
	config.OnStateChange = func(name string, from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := NewCircuitBreaker(config)

	tripBreaker(t, cb)
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		})
	}

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("test panic")
		})
	})

	stats := cb.Stats()
	assert.Equal(t, uint64(1), stats.TotalCalls)
	assert.Equal(t, uint64(1), stats.FailedCalls)
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig())

	result, err := cb.Call(func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("trip")
		})
	}
	require.Equal(t, StateOpen, cb.State())
}
