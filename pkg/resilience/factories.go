package resilience

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/pipewatch/pipewatch/pkg/errors"
)

// DatabaseCircuitBreakerConfig returns the pre-tuned breaker configuration
// for a database resource, named "db-<resourceName>".
func DatabaseCircuitBreakerConfig(resourceName string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "db-" + resourceName,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		WindowSize:       10,
		ErrorFilter:      IsDatabaseFailure,
	}
}

// APICircuitBreakerConfig returns the pre-tuned breaker configuration for an
// HTTP API resource, named "api-<resourceName>".
func APICircuitBreakerConfig(resourceName string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "api-" + resourceName,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		WindowSize:       5,
		ErrorFilter:      IsAPIFailure,
	}
}

// NewDatabaseCircuitBreaker creates a standalone breaker tuned for a
// database resource. Prefer the registry variant when multiple call sites
// address the same resource.
func NewDatabaseCircuitBreaker(resourceName string) *CircuitBreaker {
	return NewCircuitBreaker(DatabaseCircuitBreakerConfig(resourceName))
}

// NewAPICircuitBreaker creates a standalone breaker tuned for an API resource
func NewAPICircuitBreaker(resourceName string) *CircuitBreaker {
	return NewCircuitBreaker(APICircuitBreakerConfig(resourceName))
}

// DatabaseRetryConfig returns the retry profile for database operations:
// more attempts, moderate base delay, retries on connection and
// timeout-shaped errors.
func DatabaseRetryConfig(name string) RetryPolicyConfig {
	return RetryPolicyConfig{
		Name:              name,
		MaxAttempts:       5,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryCondition:    IsDatabaseFailure,
	}
}

// APIRetryConfig returns the retry profile for API operations: fewer
// attempts, retries on 5xx-shaped errors.
func APIRetryConfig(name string) RetryPolicyConfig {
	return RetryPolicyConfig{
		Name:              name,
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          15 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryCondition:    IsAPIFailure,
	}
}

// NewDatabaseTimeout creates a timeout manager for a class of database
// operations, named "db-<operationKind>".
func NewDatabaseTimeout(operationKind string) *TimeoutManager {
	return NewTimeoutManager(TimeoutConfig{
		Name:     "db-" + operationKind,
		Duration: 30 * time.Second,
	})
}

// IsDatabaseFailure classifies errors that indicate an unhealthy database:
// connection and timeout-shaped failures. Circuit rejections and validation
// errors never count.
func IsDatabaseFailure(err error) bool {
	if err == nil {
		return false
	}

	if IsCircuitOpenError(err) {
		return false
	}

	if apperrors.IsType(err, apperrors.ErrorTypeConnection) ||
		apperrors.IsType(err, apperrors.ErrorTypeTimeout) ||
		apperrors.IsType(err, apperrors.ErrorTypeExternal) {
		return true
	}

	if apperrors.IsType(err, apperrors.ErrorTypeValidation) ||
		apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return false
	}

	if IsOperationTimeoutError(err) || IsAttemptTimeoutError(err) {
		return true
	}

	// Fall back to matching driver-level connection failures
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"too many connections",
		"driver: bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// IsAPIFailure classifies errors that indicate a failing upstream API:
// external and 5xx-shaped failures.
func IsAPIFailure(err error) bool {
	if err == nil {
		return false
	}

	if IsCircuitOpenError(err) {
		return false
	}

	if apperrors.IsType(err, apperrors.ErrorTypeExternal) ||
		apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		return true
	}

	msg := err.Error()
	for _, marker := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// ResilientOperation composes the three primitives around a single unit of
// work in the order timeout -> retry -> circuit breaker -> operation.
type ResilientOperation struct {
	timeout *TimeoutManager
	retry   *RetryPolicy
	breaker *CircuitBreaker
}

// NewResilientOperation builds the standard composition for a named resource
// using the provided configurations
func NewResilientOperation(timeoutCfg TimeoutConfig, retryCfg RetryPolicyConfig, breaker *CircuitBreaker) *ResilientOperation {
	return &ResilientOperation{
		timeout: NewTimeoutManager(timeoutCfg),
		retry:   NewRetryPolicy(retryCfg),
		breaker: breaker,
	}
}

// NewDatabaseOperation builds the standard database composition for a
// resource, sharing the breaker through the given registry
func NewDatabaseOperation(registry *CircuitBreakerRegistry, resourceName, operationKind string) *ResilientOperation {
	breaker := registry.GetOrCreate("db-"+resourceName, DatabaseCircuitBreakerConfig(resourceName))
	return &ResilientOperation{
		timeout: NewDatabaseTimeout(operationKind),
		retry:   NewRetryPolicy(DatabaseRetryConfig("db-" + resourceName)),
		breaker: breaker,
	}
}

// Execute runs the operation through timeout, retry and circuit breaker.
// The error the caller sees depends on which layer fails last: a timeout
// error if the overall deadline fires mid-retry, a RetryExhaustedError if
// all attempts fail before the deadline, a CircuitOpenError when the
// breaker rejects and the retry predicate declines to retry it.
func (ro *ResilientOperation) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	return ro.timeout.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return ro.retry.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return ro.breaker.Execute(ctx, op)
		})
	})
}

// Breaker returns the composed circuit breaker
func (ro *ResilientOperation) Breaker() *CircuitBreaker {
	return ro.breaker
}

// RetryPolicy returns the composed retry policy
func (ro *ResilientOperation) RetryPolicy() *RetryPolicy {
	return ro.retry
}

// Timeout returns the composed timeout manager
func (ro *ResilientOperation) Timeout() *TimeoutManager {
	return ro.timeout
}
