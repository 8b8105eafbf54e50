package resilience

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, calls are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, calls are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, probe calls are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state by name in API responses
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of counted failures within the rolling
	// window that trips the breaker from closed to open
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successful probes in the
	// half-open state required to close the breaker
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays open before the next
	// call is allowed through as a probe
	RecoveryTimeout time.Duration
	// WindowSize is the number of recent call outcomes tracked for failure
	// counting. Must be >= FailureThreshold.
	WindowSize int
	// ErrorFilter decides whether an error counts as a failure. Errors that
	// do not count are recorded as successes but still returned to the caller.
	// Nil means every error counts.
	ErrorFilter func(error) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// CircuitStats is a snapshot of a circuit breaker's counters
type CircuitStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalCalls      uint64       `json:"total_calls"`
	SuccessfulCalls uint64       `json:"successful_calls"`
	FailedCalls     uint64       `json:"failed_calls"`
	RejectedCalls   uint64       `json:"rejected_calls"`
	Uptime          float64      `json:"uptime"`
}

// CircuitBreaker is a state machine that stops calling a failing resource
// for a cooldown period, then cautiously probes recovery.
//
// Multiple Execute calls may be in flight concurrently against the same
// breaker; each independently updates the counters and may independently
// trigger a state transition. While half-open, every admitted call is
// treated as a probe with no cap on concurrent probes.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	errorFilter      func(error) bool
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex             sync.Mutex
	state             CircuitState
	window            *outcomeWindow
	openedAt          time.Time
	halfOpenSuccesses int

	totalCalls      uint64
	successfulCalls uint64
	failedCalls     uint64
	rejectedCalls   uint64

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.WindowSize < config.FailureThreshold {
		config.WindowSize = config.FailureThreshold
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		errorFilter:      config.ErrorFilter,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		window:           newOutcomeWindow(config.WindowSize),
		logger:           logging.GetLogger(),
	}
}

// Execute runs the given operation if the circuit breaker admits it
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(nil, true)
			panic(r)
		}
	}()

	result, err := op(ctx)
	cb.afterCall(err, false)
	return result, err
}

// Call is a convenience method that wraps Execute for operations that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// beforeCall admits or rejects the call and performs the open -> half-open
// transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.recoveryTimeout {
			cb.rejectedCalls++
			return &CircuitOpenError{
				Name:     cb.name,
				OpenedAt: cb.openedAt,
				RetryAt:  cb.openedAt.Add(cb.recoveryTimeout),
			}
		}
		cb.setState(StateHalfOpen)
	}

	return nil
}

// afterCall records the outcome of an admitted call. A panic in the operation
// is recorded as a counted failure.
func (cb *CircuitBreaker) afterCall(err error, panicked bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalCalls++

	counted := panicked || (err != nil && (cb.errorFilter == nil || cb.errorFilter(err)))

	if err == nil && !panicked {
		cb.recordSuccess()
		return
	}

	if !counted {
		// Filtered errors do not count toward window failures but the
		// original error is still returned to the caller.
		cb.recordSuccess()
		return
	}

	cb.recordFailure()
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successfulCalls++
	cb.window.record(true)

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.window.reset()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failedCalls++
	cb.window.record(false)

	switch cb.state {
	case StateHalfOpen:
		// Any counted failure during probing reopens the circuit.
		cb.setState(StateOpen)
		cb.openedAt = time.Now()
	case StateClosed:
		if cb.window.failures() >= cb.failureThreshold {
			cb.setState(StateOpen)
			cb.openedAt = time.Now()
		}
	}
}

// setState transitions the breaker and resets per-state bookkeeping.
// Callers must hold the mutex.
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.halfOpenSuccesses = 0

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// IsCallable reports whether the next call would be admitted, which is true
// unless the breaker is open with its recovery timeout not yet elapsed.
func (cb *CircuitBreaker) IsCallable() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return true
	}
	return time.Since(cb.openedAt) >= cb.recoveryTimeout
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	uptime := 0.0
	if cb.totalCalls > 0 {
		uptime = float64(cb.successfulCalls) / float64(cb.totalCalls) * 100
	}

	return CircuitStats{
		Name:            cb.name,
		State:           cb.state,
		TotalCalls:      cb.totalCalls,
		SuccessfulCalls: cb.successfulCalls,
		FailedCalls:     cb.failedCalls,
		RejectedCalls:   cb.rejectedCalls,
		Uptime:          uptime,
	}
}

// outcomeWindow is a fixed-size ring buffer of the most recent call outcomes
type outcomeWindow struct {
	outcomes []bool
	next     int
	filled   int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{outcomes: make([]bool, size)}
}

func (w *outcomeWindow) record(success bool) {
	w.outcomes[w.next] = success
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

func (w *outcomeWindow) failures() int {
	count := 0
	for i := 0; i < w.filled; i++ {
		if !w.outcomes[i] {
			count++
		}
	}
	return count
}

func (w *outcomeWindow) reset() {
	w.next = 0
	w.filled = 0
}
