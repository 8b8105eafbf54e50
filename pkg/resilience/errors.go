package resilience

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a circuit breaker rejects a call
// without invoking the operation because its resource is judged unhealthy.
type CircuitOpenError struct {
	Name      string
	OpenedAt  time.Time
	RetryAt   time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsCircuitOpenError checks if an error is a circuit open rejection
func IsCircuitOpenError(err error) bool {
	var coErr *CircuitOpenError
	return errors.As(err, &coErr)
}

// RetryExhaustedError is returned when all permitted attempts failed or the
// retry predicate vetoed further attempts. It carries the full attempt history.
type RetryExhaustedError struct {
	Name     string
	Attempts []AttemptRecord
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation '%s' failed after %d attempts: %v", e.Name, len(e.Attempts), e.Cause)
}

// Unwrap returns the error from the final attempt
func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

// IsRetryExhaustedError checks if an error is a retry exhaustion
func IsRetryExhaustedError(err error) bool {
	var reErr *RetryExhaustedError
	return errors.As(err, &reErr)
}

// AttemptTimeoutError is returned when a single attempt inside a retry
// sequence exceeded its per-attempt timeout. Distinct from exhausting retries.
type AttemptTimeoutError struct {
	Name    string
	Attempt int
	Timeout time.Duration
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt %d of operation '%s' timed out after %v", e.Attempt, e.Name, e.Timeout)
}

// IsAttemptTimeoutError checks if an error is a per-attempt timeout
func IsAttemptTimeoutError(err error) bool {
	var atErr *AttemptTimeoutError
	return errors.As(err, &atErr)
}

// OperationTimeoutError is returned when the overall deadline of a
// TimeoutManager-wrapped call elapsed.
type OperationTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("operation '%s' timed out after %v", e.Name, e.Timeout)
}

// IsOperationTimeoutError checks if an error is an overall deadline timeout
func IsOperationTimeoutError(err error) bool {
	var otErr *OperationTimeoutError
	return errors.As(err, &otErr)
}

// OperationCancelledError is returned when an in-flight call was cancelled
// explicitly, either by a manual Cancel or by parent propagation.
type OperationCancelledError struct {
	Name   string
	Reason string
}

func (e *OperationCancelledError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("operation '%s' was cancelled: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("operation '%s' was cancelled", e.Name)
}

// IsOperationCancelledError checks if an error is an explicit cancellation
func IsOperationCancelledError(err error) bool {
	var ocErr *OperationCancelledError
	return errors.As(err, &ocErr)
}
