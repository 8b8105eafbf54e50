package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/logging"
)

// TimeoutConfig holds configuration for a timeout manager
type TimeoutConfig struct {
	// Name of the manager for logging/metrics
	Name string
	// Duration is the overall deadline for each wrapped call
	Duration time.Duration
	// PropagateToChildren triggers cancellation of in-flight child
	// executions when this manager is cancelled or times out
	PropagateToChildren bool
}

// TimeoutStats is a snapshot of a timeout manager's statistics
type TimeoutStats struct {
	TotalExecutions      uint64        `json:"total_executions"`
	SuccessfulExecutions uint64        `json:"successful_executions"`
	TimeoutCount         uint64        `json:"timeout_count"`
	CancelledCount       uint64        `json:"cancelled_count"`
	TimeoutRate          float64       `json:"timeout_rate"`
	AverageDuration      time.Duration `json:"average_duration"`
	MinDuration          time.Duration `json:"min_duration"`
	MaxDuration          time.Duration `json:"max_duration"`
}

// activeCall tracks one in-flight execution for cancellation and introspection
type activeCall struct {
	startedAt time.Time
	deadline  time.Time
	cancelled chan *OperationCancelledError
}

// cancelWith triggers the call's cancellation token once; later triggers are dropped
func (c *activeCall) cancelWith(name, reason string) {
	select {
	case c.cancelled <- &OperationCancelledError{Name: name, Reason: reason}:
	default:
	}
}

// TimeoutManager wraps operations with a deadline and a cooperative
// cancellation token. The operation receives a context it must observe to
// stop early; cancellation is never preemptive. An operation that ignores
// its context keeps running in the background and its result is discarded.
type TimeoutManager struct {
	config TimeoutConfig
	parent *TimeoutManager

	mutex sync.Mutex
	calls map[uint64]*activeCall
	// latest is the most recently started call, used for introspection
	latest       *activeCall
	nextCallID   uint64
	childCancels map[uint64]func(reason string)
	nextChildID  uint64

	totalExecutions      uint64
	successfulExecutions uint64
	timeoutCount         uint64
	cancelledCount       uint64
	totalDuration        time.Duration
	minDuration          time.Duration
	maxDuration          time.Duration

	logger *logging.Logger
}

// NewTimeoutManager creates a new timeout manager with the given configuration
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.Duration <= 0 {
		config.Duration = 30 * time.Second
	}

	return &TimeoutManager{
		config:       config,
		calls:        make(map[uint64]*activeCall),
		childCancels: make(map[uint64]func(reason string)),
		logger:       logging.GetLogger(),
	}
}

// CreateChild returns a new manager whose cancellation chains to this one.
// The parent does not own the child; it only holds a cancellation callback
// while a child execution is in flight, and only when propagation is enabled.
func (m *TimeoutManager) CreateChild(config TimeoutConfig) *TimeoutManager {
	child := NewTimeoutManager(config)
	child.parent = m
	return child
}

// Execute runs the operation against this manager's deadline. The operation
// must observe its context and fail once the context is cancelled.
func (m *TimeoutManager) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	call := &activeCall{
		startedAt: time.Now(),
		deadline:  time.Now().Add(m.config.Duration),
		cancelled: make(chan *OperationCancelledError, 1),
	}
	id := m.registerCall(call)
	defer m.unregisterCall(id)

	// Chain to the parent's cancellation fan-out while in flight
	if m.parent != nil && m.parent.config.PropagateToChildren {
		deregister := m.parent.registerChildCancel(func(reason string) {
			call.cancelWith(m.config.Name, reason)
		})
		defer deregister()
	}

	timer := time.NewTimer(m.config.Duration)
	defer timer.Stop()

	type outcome struct {
		data interface{}
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := op(opCtx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		m.recordCompletion(time.Since(call.startedAt))
		return out.data, out.err

	case <-timer.C:
		cancel()
		m.notifyChildren("parent '" + m.config.Name + "' timed out")
		m.recordTimeout()
		m.logger.Warn("Operation timed out",
			"name", m.config.Name,
			"timeout", m.config.Duration,
		)
		return nil, &OperationTimeoutError{Name: m.config.Name, Timeout: m.config.Duration}

	case cerr := <-call.cancelled:
		cancel()
		m.recordCancelled()
		return nil, cerr

	case <-ctx.Done():
		cancel()
		m.recordCancelled()
		return nil, &OperationCancelledError{Name: m.config.Name, Reason: ctx.Err().Error()}
	}
}

// Cancel triggers the cancellation token of every in-flight execution on this
// manager, and fans out to children when propagation is enabled. Each affected
// call fails with OperationCancelledError rather than a timeout.
func (m *TimeoutManager) Cancel(reason string) {
	m.mutex.Lock()
	calls := make([]*activeCall, 0, len(m.calls))
	for _, call := range m.calls {
		calls = append(calls, call)
	}
	m.mutex.Unlock()

	for _, call := range calls {
		call.cancelWith(m.config.Name, reason)
	}

	m.notifyChildren(reason)
}

// ActiveTimeout returns the config of the currently running timeout, or nil
// when no execution is in flight
func (m *TimeoutManager) ActiveTimeout() *TimeoutConfig {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.calls) == 0 {
		return nil
	}
	cfg := m.config
	return &cfg
}

// RemainingTime returns the time left before the most recent in-flight call's
// deadline, or zero when nothing is in flight
func (m *TimeoutManager) RemainingTime() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.latest == nil {
		return 0
	}
	remaining := time.Until(m.latest.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ElapsedTime returns how long the most recent in-flight call has been
// running, or zero when nothing is in flight
func (m *TimeoutManager) ElapsedTime() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.latest == nil {
		return 0
	}
	return time.Since(m.latest.startedAt)
}

// Stats returns a snapshot of the manager's statistics. Duration tracking
// covers completed executions only.
func (m *TimeoutManager) Stats() TimeoutStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats := TimeoutStats{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		TimeoutCount:         m.timeoutCount,
		CancelledCount:       m.cancelledCount,
		MinDuration:          m.minDuration,
		MaxDuration:          m.maxDuration,
	}
	if m.totalExecutions > 0 {
		stats.TimeoutRate = float64(m.timeoutCount) / float64(m.totalExecutions) * 100
	}
	if m.successfulExecutions > 0 {
		stats.AverageDuration = m.totalDuration / time.Duration(m.successfulExecutions)
	}
	return stats
}

// Name returns the name of the timeout manager
func (m *TimeoutManager) Name() string {
	return m.config.Name
}

// Config returns a copy of the manager's configuration
func (m *TimeoutManager) Config() TimeoutConfig {
	return m.config
}

func (m *TimeoutManager) registerCall(call *activeCall) uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextCallID++
	m.calls[m.nextCallID] = call
	m.latest = call
	return m.nextCallID
}

func (m *TimeoutManager) unregisterCall(id uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	call := m.calls[id]
	delete(m.calls, id)
	if m.latest != call {
		return
	}

	// Promote the most recently started survivor; call IDs are monotonic
	m.latest = nil
	var newest uint64
	for remainingID, remaining := range m.calls {
		if remainingID >= newest {
			newest = remainingID
			m.latest = remaining
		}
	}
}

// registerChildCancel adds a cancellation callback for an in-flight child
// execution and returns its deregistration func
func (m *TimeoutManager) registerChildCancel(cancel func(reason string)) func() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextChildID++
	id := m.nextChildID
	m.childCancels[id] = cancel

	return func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		delete(m.childCancels, id)
	}
}

func (m *TimeoutManager) notifyChildren(reason string) {
	if !m.config.PropagateToChildren {
		return
	}

	m.mutex.Lock()
	cancels := make([]func(reason string), 0, len(m.childCancels))
	for _, cancel := range m.childCancels {
		cancels = append(cancels, cancel)
	}
	m.mutex.Unlock()

	for _, cancel := range cancels {
		cancel(reason)
	}
}

func (m *TimeoutManager) recordCompletion(duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalExecutions++
	m.successfulExecutions++
	m.totalDuration += duration
	if m.minDuration == 0 || duration < m.minDuration {
		m.minDuration = duration
	}
	if duration > m.maxDuration {
		m.maxDuration = duration
	}
}

func (m *TimeoutManager) recordTimeout() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalExecutions++
	m.timeoutCount++
}

func (m *TimeoutManager) recordCancelled() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalExecutions++
	m.cancelledCount++
}
