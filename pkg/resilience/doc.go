// Package resilience provides the circuit breaker, retry and timeout
// primitives that govern every database call pipewatch makes.
//
// The three primitives share one contract: wrap a callable, return its
// result or a typed error. They compose by nesting, typically in the order
// timeout -> retry -> circuit breaker -> operation.
//
// # Circuit Breaker Pattern
//
// A breaker tracks recent outcomes for one logical resource in a rolling
// window and short-circuits calls when the resource is judged unhealthy,
// recovering through a probing half-open state.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "db-postgres-primary",
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		RecoveryTimeout:  30 * time.Second,
//		WindowSize:       10,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return connector.TableFreshness(ctx, "events", "created_at")
//	})
//
// Breakers for shared resources come from a CircuitBreakerRegistry so every
// call site addressing "db-postgres-primary" updates the same state machine.
//
// # Retry with Exponential Backoff
//
// A retry policy re-executes a failing operation with exponential backoff
// and optional jitter, subject to a retry predicate and an optional
// per-attempt timeout. ExecuteWithResult never fails for business errors
// and returns the full attempt history.
//
//	policy := resilience.NewRetryPolicy(resilience.DatabaseRetryConfig("db-primary"))
//	result := policy.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
//		return runQuery(ctx)
//	})
//
// # Timeouts and Cooperative Cancellation
//
// A timeout manager races the operation against a deadline. Cancellation is
// cooperative: the operation receives a context it must observe, and an
// operation that ignores it keeps running in the background with its result
// discarded. Managers can be chained so a parent's cancellation fans out to
// in-flight children.
//
//	tm := resilience.NewDatabaseTimeout("query")
//	result, err := tm.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return db.QueryContext(ctx, stmt)
//	})
//
// All primitives are safe for concurrent use. While a breaker is half-open
// every admitted call is treated as a probe; the number of concurrent
// probes is not capped.
package resilience
