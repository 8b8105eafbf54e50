package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/logging"
)

// RetryPolicyConfig holds configuration for retry logic
type RetryPolicyConfig struct {
	// Name of the policy for logging/metrics
	Name string
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// EnableJitter adds randomness to delays to avoid retry storms
	EnableJitter bool
	// RetryCondition determines whether an error should be retried.
	// Nil means retry everything.
	RetryCondition func(error) bool
	// AttemptTimeout is an optional deadline applied to each single attempt
	AttemptTimeout time.Duration
	// OnRetry is called before each retry suspension
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicyConfig returns a generic retry configuration
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// AttemptRecord describes a single attempt made by a retry policy
type AttemptRecord struct {
	Attempt  int           `json:"attempt"`
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// ExecutionResult is the non-throwing outcome of ExecuteWithResult
type ExecutionResult struct {
	Success       bool
	Data          interface{}
	Err           error
	Attempts      []AttemptRecord
	TotalDuration time.Duration
}

// RetryStats is a snapshot of a retry policy's accumulated statistics
type RetryStats struct {
	TotalExecutions      uint64  `json:"total_executions"`
	SuccessfulExecutions uint64  `json:"successful_executions"`
	FailedExecutions     uint64  `json:"failed_executions"`
	TotalAttempts        uint64  `json:"total_attempts"`
	AverageAttempts      float64 `json:"average_attempts"`
	SuccessRate          float64 `json:"success_rate"`
}

// RetryPolicy re-executes a failing operation with exponential backoff,
// subject to a retry predicate and an optional per-attempt timeout.
type RetryPolicy struct {
	config RetryPolicyConfig
	logger *logging.Logger

	statsMutex           sync.Mutex
	totalExecutions      uint64
	successfulExecutions uint64
	failedExecutions     uint64
	totalAttempts        uint64
}

// NewRetryPolicy creates a new retry policy with the given configuration
func NewRetryPolicy(config RetryPolicyConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = 2.0
	}

	return &RetryPolicy{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs the operation with retry logic, returning its result or a
// RetryExhaustedError carrying the full attempt history.
func (p *RetryPolicy) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	result := p.run(ctx, op)
	if result.Success {
		return result.Data, nil
	}
	return nil, result.Err
}

// ExecuteWithResult runs the operation with retry logic and never fails for
// business errors; the outcome, attempt history and total duration are
// returned as an ExecutionResult.
func (p *RetryPolicy) ExecuteWithResult(ctx context.Context, op func(context.Context) (interface{}, error)) ExecutionResult {
	return p.run(ctx, op)
}

func (p *RetryPolicy) run(ctx context.Context, op func(context.Context) (interface{}, error)) ExecutionResult {
	started := time.Now()
	attempts := make([]AttemptRecord, 0, p.config.MaxAttempts)

	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		attemptStart := time.Now()
		data, err := p.runAttempt(ctx, attempt, op)
		record := AttemptRecord{
			Attempt:  attempt,
			Success:  err == nil,
			Err:      err,
			Duration: time.Since(attemptStart),
		}
		attempts = append(attempts, record)

		if err == nil {
			if attempt > 1 {
				p.logger.Info("Operation succeeded after retry",
					"name", p.config.Name,
					"attempt", attempt,
				)
			}
			p.recordExecution(true, attempt)
			return ExecutionResult{
				Success:       true,
				Data:          data,
				Attempts:      attempts,
				TotalDuration: time.Since(started),
			}
		}

		lastErr = err

		if attempt == p.config.MaxAttempts {
			break
		}

		if p.config.RetryCondition != nil && !p.config.RetryCondition(err) {
			p.logger.Debug("Error is not retryable, stopping",
				"name", p.config.Name,
				"error", err.Error(),
				"attempt", attempt,
			)
			break
		}

		delay := p.calculateDelay(attempt)

		p.logger.Debug("Operation failed, retrying",
			"name", p.config.Name,
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", p.config.MaxAttempts,
			"delay", delay,
		)

		if p.config.OnRetry != nil {
			p.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
		}

		if ctx.Err() != nil {
			break
		}
	}

	p.recordExecution(false, len(attempts))

	p.logger.Error("Operation failed after all retry attempts",
		"name", p.config.Name,
		"error", lastErr.Error(),
		"attempts", len(attempts),
	)

	return ExecutionResult{
		Success: false,
		Err: &RetryExhaustedError{
			Name:     p.config.Name,
			Attempts: attempts,
			Cause:    lastErr,
		},
		Attempts:      attempts,
		TotalDuration: time.Since(started),
	}
}

// runAttempt executes a single attempt, applying the per-attempt timeout
// when configured. An attempt that outlives its deadline keeps running in
// the background; its eventual result is discarded.
func (p *RetryPolicy) runAttempt(ctx context.Context, attempt int, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if p.config.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := op(attemptCtx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &AttemptTimeoutError{
				Name:    p.config.Name,
				Attempt: attempt,
				Timeout: p.config.AttemptTimeout,
			}
		}
		return nil, attemptCtx.Err()
	}
}

func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(p.config.MaxDelay) {
		delay = float64(p.config.MaxDelay)
	}

	if p.config.EnableJitter {
		// Uniformly randomize within [0.9d, 1.1d]
		delay = delay * (0.9 + rand.Float64()*0.2)
	}

	return time.Duration(delay)
}

func (p *RetryPolicy) recordExecution(success bool, attempts int) {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()

	p.totalExecutions++
	p.totalAttempts += uint64(attempts)
	if success {
		p.successfulExecutions++
	} else {
		p.failedExecutions++
	}
}

// Stats returns a snapshot of the policy's accumulated statistics
func (p *RetryPolicy) Stats() RetryStats {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()

	stats := RetryStats{
		TotalExecutions:      p.totalExecutions,
		SuccessfulExecutions: p.successfulExecutions,
		FailedExecutions:     p.failedExecutions,
		TotalAttempts:        p.totalAttempts,
	}
	if p.totalExecutions > 0 {
		stats.AverageAttempts = float64(p.totalAttempts) / float64(p.totalExecutions)
		stats.SuccessRate = float64(p.successfulExecutions) / float64(p.totalExecutions) * 100
	}
	return stats
}

// ResetStats zeroes the accumulated statistics
func (p *RetryPolicy) ResetStats() {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()

	p.totalExecutions = 0
	p.successfulExecutions = 0
	p.failedExecutions = 0
	p.totalAttempts = 0
}

// Name returns the name of the retry policy
func (p *RetryPolicy) Name() string {
	return p.config.Name
}

// Retry is a convenience function to execute an operation with the default
// retry configuration
func Retry(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	return NewRetryPolicy(DefaultRetryPolicyConfig()).Execute(ctx, op)
}
