package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/resilience"
)

func TestService_AggregatesCheckerStatuses(t *testing.T) {
	svc := NewService(nil, map[string]string{"service": "pipewatch"})

	svc.RegisterChecker("good", NewCustomChecker("good", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "fine", nil
	}))
	svc.RegisterChecker("shaky", NewCustomChecker("shaky", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "slow", nil
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "pipewatch", resp.Metadata["service"])
}

func TestService_UnhealthyWinsOverDegraded(t *testing.T) {
	svc := NewService(nil, nil)

	svc.RegisterChecker("shaky", NewCustomChecker("shaky", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "slow", nil
	}))
	svc.RegisterChecker("down", NewCustomChecker("down", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "", errors.New("refused")
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "refused", resp.Checks["down"].Error)
}

func TestCustomChecker_ErrorForcesUnhealthy(t *testing.T) {
	checker := NewCustomChecker("x", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "claims healthy", errors.New("but errored")
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "but errored", check.Error)
}

func TestBreakerChecker_DegradedWhileOpen(t *testing.T) {
	registry := resilience.NewCircuitBreakerRegistry()
	cb := registry.GetOrCreate("db-pg", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
		WindowSize:       5,
	})

	checker := NewBreakerChecker(registry, "breakers")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	})

	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "OPEN", check.Metadata["db-pg"])
}
